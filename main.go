package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"controlplane-backend/admission"
	"controlplane-backend/database"
	"controlplane-backend/middlewares"
	"controlplane-backend/routes"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/redis/go-redis/v9"
)

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// admissionConfig collects the tunables for the admission layer. It is validated
// at startup so a bad window or TTL fails fast instead of at request time.
type admissionConfig struct {
	TTLSeconds             int `validate:"gt=0"`
	MaxExecutionSeconds    int `validate:"gt=0"`
	WaitTimeoutSeconds     int `validate:"gt=0"`
	SignupsPerHourPerIP    int `validate:"gte=0"`
	OrgCreatesPerHour      int `validate:"gte=0"`
	AdminRequestsPerMinute int `validate:"gte=0"`
	SweepIntervalSeconds   int `validate:"gt=0"`
}

func main() {
	// ---- Database (shared admission store + demo models)
	database.Connect()
	database.AutoMigrate()

	// ---- Admission configuration (env-tunable, validated up front)
	cfg := admissionConfig{
		TTLSeconds:             envInt("IDEMPOTENCY_TTL_SECONDS", 3600),
		MaxExecutionSeconds:    envInt("IDEMPOTENCY_MAX_EXECUTION_SECONDS", 30),
		WaitTimeoutSeconds:     envInt("IDEMPOTENCY_WAIT_TIMEOUT_SECONDS", 10),
		SignupsPerHourPerIP:    envInt("SIGNUPS_PER_HOUR_PER_IP", 5),
		OrgCreatesPerHour:      envInt("ORG_CREATES_PER_HOUR", 10),
		AdminRequestsPerMinute: envInt("ADMIN_REQUESTS_PER_MINUTE", 120),
		SweepIntervalSeconds:   envInt("SWEEP_INTERVAL_SECONDS", 300),
	}
	if err := middlewares.ValidateStruct(cfg); err != nil {
		log.Fatalf("invalid admission configuration: %v", err)
	}

	// ---- Admission store: Redis when configured, else the shared Postgres.
	// Either way all instances coordinate through it; nothing lives in process memory.
	var store admission.Store
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		store = admission.NewRedisStore(rdb, "admission")
	} else {
		store = admission.NewPostgresStore(database.DB)
		// Redis expires its own keys; Postgres rows need the periodic sweep.
		database.StartSweeper(context.Background(),
			time.Duration(cfg.SweepIntervalSeconds)*time.Second,
			24*time.Hour)
	}

	coordinator := admission.NewCoordinator(store)
	coordinator.TTL = time.Duration(cfg.TTLSeconds) * time.Second
	coordinator.MaxExecution = time.Duration(cfg.MaxExecutionSeconds) * time.Second
	coordinator.WaitTimeout = time.Duration(cfg.WaitTimeoutSeconds) * time.Second

	limiter := admission.NewLimiter(store)

	// ---- Limits (configurable via env)
	// Fiber default BodyLimit is 4 * 1024 * 1024 bytes if unset (per docs).
	// We allow overriding with BODY_LIMIT_BYTES or BODY_LIMIT_MB.
	bodyLimitBytes := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimitBytes <= 0 {
		bodyLimitBytes = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler,
		BodyLimit:    bodyLimitBytes,
	})

	// ---- CORS
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
	}))

	// ---- Routes (per-route rate limits + idempotency live in the route wiring)
	routes.Register(app, routes.Deps{
		Coordinator:            coordinator,
		Limiter:                limiter,
		SignupsPerHourPerIP:    cfg.SignupsPerHourPerIP,
		OrgCreatesPerHour:      cfg.OrgCreatesPerHour,
		AdminRequestsPerMinute: cfg.AdminRequestsPerMinute,
	})

	// ---- Start
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := app.Listen(":" + port); err != nil {
		panic(err)
	}
}
