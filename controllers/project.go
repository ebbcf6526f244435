package controllers

import (
	"controlplane-backend/database"
	"controlplane-backend/middlewares"
	"controlplane-backend/models"
	"controlplane-backend/utils"

	"github.com/gofiber/fiber/v2"
)

type CreateProjectDTO struct {
	Name string `json:"name" validate:"required"`
	Slug string `json:"slug" validate:"required"`
}

// CreateProject provisions a project under the caller's organization. Idempotency
// is keyed on create_project:<orgID>/<slug>.
func CreateProject(c *fiber.Ctx) error {
	var dto CreateProjectDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	utils.NormalizeDTO(&dto)

	orgID, _ := c.Locals("orgID").(string)
	if orgID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "organization context missing"})
	}

	slug, err := utils.NormalizeSlug(dto.Slug)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	project := models.Project{
		OrgId: orgID,
		Name:  dto.Name,
		Slug:  slug,
	}
	if err := database.DB.Create(&project).Error; err != nil {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"message": "Could not create project",
			"error":   err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(project)
}
