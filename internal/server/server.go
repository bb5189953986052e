// Package server exposes the admin JSON API: dashboard login, the message
// evaluation endpoint, and the moderation/points operations.
package server

import (
	"context"
	"fmt"
	"time"

	"modkeeper/internal/cache"
	"modkeeper/internal/config"
	"modkeeper/internal/database"
	"modkeeper/internal/middleware"
	"modkeeper/internal/observability"
	"modkeeper/internal/ratelimit"
	"modkeeper/internal/repository"
	"modkeeper/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers.
type Server struct {
	config *config.Config
	db     *gorm.DB
	redis  *redis.Client

	users    repository.UserRepository
	sessions repository.AdminSessionRepository
	stats    repository.StatsRepository

	moderation  *service.ModerationService
	points      *service.PointsService
	userService *service.UserService
	limiter     *ratelimit.Limiter
	prom        *fiberprometheus.FiberPrometheus
}

// NewServer creates a server instance, establishing database and Redis
// connections from config.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)

	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis itself.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	userRepo := repository.NewUserRepository(db)
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	eventRepo := repository.NewEventRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	sessionRepo := repository.NewAdminSessionRepository(db)
	statsRepo := repository.NewStatsRepository(db)

	points := service.NewPointsService(ledgerRepo, userRepo, messageRepo, eventRepo, middleware.Logger)
	moderation := service.NewModerationService(
		userRepo, chatRepo, messageRepo, eventRepo,
		service.ModerationConfig{
			AutoModeration:           cfg.AutoModeration,
			ViolenceThreshold:        cfg.ViolenceThreshold,
			ToxicityThreshold:        cfg.ToxicityThreshold,
			SevereThreshold:          cfg.SevereThreshold,
			MessageRewardProbability: cfg.MessageRewardProbability,
		},
		middleware.Logger,
		service.WithRewarder(points),
	)

	return &Server{
		config:      cfg,
		db:          db,
		redis:       redisClient,
		users:       userRepo,
		sessions:    sessionRepo,
		stats:       statsRepo,
		moderation:  moderation,
		points:      points,
		userService: service.NewUserService(userRepo, eventRepo, ledgerRepo, middleware.Logger),
		limiter: ratelimit.New(redisClient,
			cfg.MaxMessagesPerMinute, cfg.MaxMessagesPerHour, middleware.Logger),
		prom: observability.InitMetrics("modkeeper-api"),
	}, nil
}

// Services returns the wired core services so the bootstrap layer can share
// them with the reconciler.
func (s *Server) Services() (*service.ModerationService, *service.PointsService) {
	return s.moderation, s.points
}

// DB returns the underlying database handle.
func (s *Server) DB() *gorm.DB { return s.db }

// SetupMiddleware configures middleware for the Fiber app.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.StructuredLogger())
	if s.prom != nil {
		app.Use(s.prom.Middleware)
	}
}

// SetupRoutes configures all routes for the application.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.prom != nil {
		s.prom.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Post("/login", middleware.RateLimit(s.redis, 10, 5*time.Minute, "login"), s.Login)

	protected := api.Group("", s.AuthRequired())
	protected.Post("/logout", s.Logout)

	// Message ingest. Trusted bot clients authenticate the same way the
	// dashboard does.
	protected.Post("/messages", s.EvaluateMessage)

	protected.Get("/stats", s.GetStats)
	protected.Get("/leaderboard", s.GetLeaderboard)
	protected.Post("/transfers", s.TransferPoints)

	users := protected.Group("/users")
	// Specific /:id/:resource routes before the generic /:id route.
	users.Get("/:id/can-message", s.CanUserMessage)
	users.Post("/:id/warn", s.WarnUser)
	users.Post("/:id/mute", s.MuteUser)
	users.Post("/:id/ban", s.BanUser)
	users.Post("/:id/unban", s.UnbanUser)
	users.Post("/:id/promote", s.PromoteUser)
	users.Post("/:id/demote", s.DemoteUser)
	users.Post("/:id/points", s.AdjustPoints)
	users.Post("/:id/daily-bonus", s.ClaimDailyBonus)
	users.Get("/:id", s.GetUserDetail)
}

// Shutdown releases server-held resources. The HTTP listener itself is owned
// and stopped by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LivenessCheck handles liveness probe requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional (the
// limiter fails open without it) so only the database gates readiness.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis == nil {
		redisStatus = "unavailable"
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}
