package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"controlplane-backend/admission"
	"controlplane-backend/controllers"
	"controlplane-backend/middlewares"
	"controlplane-backend/utils"
)

// Deps carries the admission-control wiring and the per-route budgets resolved
// from configuration at startup.
type Deps struct {
	Coordinator *admission.Coordinator
	Limiter     *admission.Limiter

	SignupsPerHourPerIP    int
	OrgCreatesPerHour      int
	AdminRequestsPerMinute int
}

// Register wires all HTTP routes.
func Register(app *fiber.App, deps Deps) {
	api := app.Group("/api")

	// Public auth endpoints. Signup is the main abuse target: per-IP budget.
	api.Post("/signup", middlewares.RateLimit(middlewares.RateLimitConfig{
		Limiter:     deps.Limiter,
		Limit:       deps.SignupsPerHourPerIP,
		Window:      time.Hour,
		Identifiers: []middlewares.IdentifierFunc{middlewares.ByClientIP()},
		Message:     "Too many signups from this address. Please try again later.",
	}), controllers.Signup)
	api.Post("/login", controllers.Login)

	// Protected endpoints (JWT auth)
	protected := api.Group("")
	protected.Use(middlewares.IsAuthenticatedHeader())

	// Organization creation: rate limit FIRST (cheap rejection, IP and org budgets
	// with AND semantics), then the idempotency guard around the actual mutation.
	protected.Post("/org",
		middlewares.RateLimit(middlewares.RateLimitConfig{
			Limiter:     deps.Limiter,
			Limit:       deps.OrgCreatesPerHour,
			Window:      time.Hour,
			Identifiers: []middlewares.IdentifierFunc{middlewares.ByClientIP(), middlewares.ByOrg()},
		}),
		middlewares.Idempotency(middlewares.IdempotencyConfig{
			Coordinator: deps.Coordinator,
			Action:      "create_org",
			Scope:       orgSlugScope,
		}),
		controllers.CreateOrganization)

	protected.Post("/project",
		middlewares.Idempotency(middlewares.IdempotencyConfig{
			Coordinator: deps.Coordinator,
			Action:      "create_project",
			Scope:       projectScope,
		}),
		controllers.CreateProject)

	// Admin dashboard endpoints: org-scoped budget over a short window.
	admin := protected.Group("/admin", middlewares.RateLimit(middlewares.RateLimitConfig{
		Limiter:     deps.Limiter,
		Limit:       deps.AdminRequestsPerMinute,
		Window:      time.Minute,
		Identifiers: []middlewares.IdentifierFunc{middlewares.ByOrg()},
	}))
	admin.Get("/organizations", controllers.GetOrganizations)
}

// orgSlugScope keys org creation by the requested slug, normalized the same way
// the handler will normalize it so retries with cosmetic differences still match.
func orgSlugScope(c *fiber.Ctx) string {
	raw := middlewares.ScopeFromBodyField("slug")(c)
	if slug, err := utils.NormalizeSlug(raw); err == nil {
		return slug
	}
	return raw
}

// projectScope keys project creation by the caller's org plus the project slug.
func projectScope(c *fiber.Ctx) string {
	org, _ := c.Locals("orgID").(string)
	slug := middlewares.ScopeFromBodyField("slug")(c)
	if norm, err := utils.NormalizeSlug(slug); err == nil {
		slug = norm
	}
	if org == "" || slug == "" {
		return ""
	}
	return org + "/" + slug
}
