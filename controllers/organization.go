package controllers

import (
	"controlplane-backend/database"
	"controlplane-backend/middlewares"
	"controlplane-backend/models"
	"controlplane-backend/utils"

	"github.com/gofiber/fiber/v2"
)

type CreateOrgDTO struct {
	Name string `json:"name" validate:"required"`
	Slug string `json:"slug" validate:"required"`
}

// CreateOrganization provisions a new organization. The route runs behind the
// idempotency middleware keyed on create_org:<slug>, so concurrent retries with
// the same slug converge on one row and one response.
func CreateOrganization(c *fiber.Ctx) error {
	var dto CreateOrgDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	utils.NormalizeDTO(&dto)

	slug, err := utils.NormalizeSlug(dto.Slug)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "auth context missing"})
	}

	tx := database.DB.Begin()

	org := models.Organization{
		Name:    dto.Name,
		Slug:    slug,
		OwnerId: userID,
	}
	if err := tx.Create(&org).Error; err != nil {
		tx.Rollback()
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"message": "Could not create organization",
			"error":   err.Error(),
		})
	}

	// First org becomes the user's default org for token issuance.
	var owner models.User
	if err := tx.Where("id = ?", userID).First(&owner).Error; err == nil && owner.OrgId == "" {
		owner.OrgId = org.Id
		if err := tx.Updates(&owner).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Could not assign organization"})
		}
	}

	tx.Commit()

	return c.Status(fiber.StatusCreated).JSON(org)
}

// GetOrganizations lists organizations for the admin dashboard. The admin group
// is rate limited per org; the handler itself stays plain CRUD.
func GetOrganizations(c *fiber.Ctx) error {
	var orgs []models.Organization
	if err := database.DB.Preload("Owner").Find(&orgs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Could not list organizations"})
	}
	return c.JSON(orgs)
}
