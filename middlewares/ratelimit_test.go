package middlewares

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"controlplane-backend/admission"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRateLimitedApp(t *testing.T, limit int, window time.Duration, ids ...IdentifierFunc) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	limiter := admission.NewLimiter(admission.NewMemoryStore())
	app.Post("/signup", RateLimit(RateLimitConfig{
		Limiter:     limiter,
		Limit:       limit,
		Window:      window,
		Identifiers: ids,
	}), func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "created"})
	})
	return app
}

type testResponse struct {
	Code   int
	Header http.Header
	Body   []byte
}

func signupFrom(t *testing.T, app *fiber.App, ip string) testResponse {
	t.Helper()

	req := httptest.NewRequest("POST", "/signup", nil)
	req.Header.Set(fiber.HeaderXForwardedFor, ip)
	res, err := app.Test(req)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return testResponse{Code: res.StatusCode, Header: res.Header, Body: body}
}

func TestRateLimitAllowsUpToLimit(t *testing.T) {
	app := newRateLimitedApp(t, 5, time.Hour)

	for i, wantRemaining := range []int{4, 3, 2, 1, 0} {
		rec := signupFrom(t, app, "203.0.113.9")
		assert.Equal(t, fiber.StatusCreated, rec.Code, "request %d", i+1)
		assert.Equal(t, "5", rec.Header.Get("X-Ratelimit-Limit"))
		assert.Equal(t, strconv.Itoa(wantRemaining), rec.Header.Get("X-Ratelimit-Remaining"), "request %d", i+1)
	}
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	app := newRateLimitedApp(t, 5, time.Hour)

	for i := 0; i < 5; i++ {
		signupFrom(t, app, "203.0.113.9")
	}
	rec := signupFrom(t, app, "203.0.113.9")
	assert.Equal(t, fiber.StatusTooManyRequests, rec.Code)

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retry_after"`
	}
	require.NoError(t, json.Unmarshal(rec.Body, &body))
	assert.Equal(t, "Rate limit exceeded", body.Error)
	assert.NotEmpty(t, body.Message)
	assert.Greater(t, body.RetryAfter, 0)

	assert.Equal(t, strconv.Itoa(body.RetryAfter), rec.Header.Get("Retry-After"))
	assert.Equal(t, "0", rec.Header.Get("X-Ratelimit-Remaining"))
	reset, err := time.Parse(time.RFC3339, rec.Header.Get("X-Ratelimit-Reset"))
	require.NoError(t, err)
	assert.True(t, reset.After(time.Now()))
}

func TestRateLimitIsolatesClients(t *testing.T) {
	app := newRateLimitedApp(t, 1, time.Hour)

	assert.Equal(t, fiber.StatusCreated, signupFrom(t, app, "203.0.113.9").Code)
	assert.Equal(t, fiber.StatusTooManyRequests, signupFrom(t, app, "203.0.113.9").Code)

	// A different client is unaffected.
	assert.Equal(t, fiber.StatusCreated, signupFrom(t, app, "198.51.100.7").Code)
}

func TestRateLimitANDSemantics(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	store := admission.NewMemoryStore()
	limiter := admission.NewLimiter(store)

	app.Post("/org", func(c *fiber.Ctx) error {
		c.Locals("orgID", "acme")
		return c.Next()
	}, RateLimit(RateLimitConfig{
		Limiter:     limiter,
		Limit:       2,
		Window:      time.Hour,
		Identifiers: []IdentifierFunc{ByClientIP(), ByOrg()},
	}), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(ip string) int {
		req := httptest.NewRequest("POST", "/org", nil)
		req.Header.Set(fiber.HeaderXForwardedFor, ip)
		res, err := app.Test(req)
		require.NoError(t, err)
		return res.StatusCode
	}

	// Two different IPs drain the shared org budget...
	assert.Equal(t, fiber.StatusCreated, send("203.0.113.1"))
	assert.Equal(t, fiber.StatusCreated, send("203.0.113.2"))
	// ...so a third IP is still rejected by the org window.
	assert.Equal(t, fiber.StatusTooManyRequests, send("203.0.113.3"))
}

func TestRateLimitZeroLimitDeniesEverything(t *testing.T) {
	app := newRateLimitedApp(t, 0, time.Hour)
	assert.Equal(t, fiber.StatusTooManyRequests, signupFrom(t, app, "203.0.113.9").Code)
}

func TestRateLimitConfigFailsFast(t *testing.T) {
	limiter := admission.NewLimiter(admission.NewMemoryStore())

	assert.Panics(t, func() {
		RateLimit(RateLimitConfig{Limiter: limiter, Limit: 5, Window: 0})
	})
	assert.Panics(t, func() {
		RateLimit(RateLimitConfig{Limit: 5, Window: time.Hour})
	})
}
