package middlewares

import (
	"encoding/json"
	"strings"

	"controlplane-backend/admission"

	"github.com/gofiber/fiber/v2"
)

const idempotencyHeader = "Idempotency-Key"

// IdempotencyConfig wires one route (group) to the coordinator. Action names the
// logical operation ("create_org"); Scope extracts the value the key is scoped to
// (org slug from the body, org ID from auth, ...).
type IdempotencyConfig struct {
	Coordinator *admission.Coordinator
	Action      string
	Scope       func(c *fiber.Ctx) string
}

// ScopeFromLocal builds a scope extractor reading a c.Locals value set upstream
// (e.g. "orgID" from the auth middleware).
func ScopeFromLocal(name string) func(c *fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		v, _ := c.Locals(name).(string)
		return v
	}
}

// ScopeFromBodyField builds a scope extractor reading a top-level string field
// from the JSON request body (e.g. the org slug on create).
func ScopeFromBodyField(field string) func(c *fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		var body map[string]any
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return ""
		}
		v, _ := body[field].(string)
		return strings.TrimSpace(v)
	}
}

// Idempotency makes the wrapped mutating handler safe to retry. The derived key
// serializes concurrent executions through the admission store: the first caller
// runs the handler, everyone else replays its cached response byte-for-byte (or
// waits for it). Handler failures release the claim so a retry executes fresh.
//
// The response carries the key's display suffix in Idempotency-Key, never the
// full internal key.
func Idempotency(cfg IdempotencyConfig) fiber.Handler {
	if cfg.Coordinator == nil {
		panic("idempotency middleware requires a coordinator")
	}
	if strings.TrimSpace(cfg.Action) == "" {
		panic("idempotency middleware requires an action name")
	}

	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch && method != fiber.MethodDelete {
			return c.Next()
		}

		scope := ""
		if cfg.Scope != nil {
			scope = cfg.Scope(c)
		}
		clientKey := strings.TrimSpace(c.Get(idempotencyHeader))

		dk, err := admission.DeriveKey(cfg.Action, scope, clientKey)
		if err != nil {
			return err // mapped to a client error by the global handler
		}

		op := func() (admission.CachedResponse, error) {
			if err := c.Next(); err != nil {
				return admission.CachedResponse{}, err
			}
			res := c.Response()
			body := make([]byte, len(res.Body()))
			copy(body, res.Body())
			headers := make(map[string]string)
			res.Header.VisitAll(func(k, v []byte) {
				switch string(k) {
				case fiber.HeaderContentLength, fiber.HeaderDate, fiber.HeaderConnection, fiber.HeaderServer:
					return
				}
				headers[string(k)] = string(v)
			})
			return admission.CachedResponse{Status: res.StatusCode(), Headers: headers, Body: body}, nil
		}

		resp, replayed, err := cfg.Coordinator.Do(c.UserContext(), dk.FullKey, op)
		if err != nil {
			return err
		}

		if replayed {
			c.Status(resp.Status)
			for k, v := range resp.Headers {
				c.Set(k, v)
			}
			c.Set(idempotencyHeader, dk.DisplaySuffix)
			return c.Send(resp.Body)
		}

		// Fresh execution: the handler already wrote the response.
		c.Set(idempotencyHeader, dk.DisplaySuffix)
		return nil
	}
}
