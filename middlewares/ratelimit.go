package middlewares

import (
	"fmt"
	"strconv"
	"time"

	"controlplane-backend/admission"

	"github.com/gofiber/fiber/v2"
)

// IdentifierFunc extracts the identity a request is counted against.
type IdentifierFunc func(c *fiber.Ctx) admission.Identifier

// ByClientIP counts per originating client IP (left-most X-Forwarded-For entry,
// falling back to the connection address; never fails the request).
func ByClientIP() IdentifierFunc {
	return func(c *fiber.Ctx) admission.Identifier {
		return admission.IPIdentifier(admission.ClientIP(c))
	}
}

// ByOrg counts per organization, using the identity the auth middleware stashed.
// An absent org folds into the shared "unknown" bucket rather than erroring.
func ByOrg() IdentifierFunc {
	return func(c *fiber.Ctx) admission.Identifier {
		org, _ := c.Locals("orgID").(string)
		if org == "" {
			org = admission.UnknownIdentifier
		}
		return admission.OrgIdentifier(org)
	}
}

// RateLimitConfig is one route's budget. Identifiers compose with AND semantics:
// every listed identity must have budget left, and the first denial short-circuits
// so later counters are not touched.
type RateLimitConfig struct {
	Limiter     *admission.Limiter
	Limit       int
	Window      time.Duration
	Identifiers []IdentifierFunc
	Message     string
}

// RateLimit enforces the configured fixed-window budget. Misconfiguration
// (nil limiter, non-positive window) panics at setup rather than surfacing per
// request; a store outage rejects with 503 (fail closed).
func RateLimit(cfg RateLimitConfig) fiber.Handler {
	if cfg.Limiter == nil {
		panic("rate limit middleware requires a limiter")
	}
	if err := admission.ValidateWindow(cfg.Window); err != nil {
		panic(fmt.Sprintf("rate limit middleware: %v", err))
	}
	if len(cfg.Identifiers) == 0 {
		cfg.Identifiers = []IdentifierFunc{ByClientIP()}
	}
	if cfg.Message == "" {
		cfg.Message = "Too many requests. Please try again later."
	}

	return func(c *fiber.Ctx) error {
		var primary *admission.RateLimitResult
		for _, identify := range cfg.Identifiers {
			res, err := cfg.Limiter.Check(c.UserContext(), identify(c), cfg.Limit, cfg.Window)
			if err != nil {
				// Without the store we cannot bound abuse; reject rather than
				// let traffic through unmetered.
				return fiber.NewError(fiber.StatusServiceUnavailable, "rate limiter unavailable")
			}
			if !res.Allowed {
				return rejectRateLimited(c, cfg, res)
			}
			if primary == nil {
				primary = &res
			}
		}
		if primary != nil {
			setRateLimitHeaders(c, *primary)
		}
		return c.Next()
	}
}

func rejectRateLimited(c *fiber.Ctx, cfg RateLimitConfig, res admission.RateLimitResult) error {
	retryAfter := cfg.Limiter.RetryAfterSeconds(res)
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	setRateLimitHeaders(c, res)
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       "Rate limit exceeded",
		"message":     cfg.Message,
		"retry_after": retryAfter,
	})
}

func setRateLimitHeaders(c *fiber.Ctx, res admission.RateLimitResult) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
}
