// Command main is the entry point for the modkeeper moderation server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modkeeper/internal/config"
	"modkeeper/internal/middleware"
	"modkeeper/internal/repository"
	"modkeeper/internal/server"
	"modkeeper/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Background sweep: restriction expiry, session purge, activity rewards.
	db := srv.DB()
	_, points := srv.Services()
	reconciler := service.NewReconciler(
		repository.NewUserRepository(db),
		repository.NewAdminSessionRepository(db),
		repository.NewMessageRepository(db),
		points,
		cfg.ReconcileInterval,
		middleware.Logger,
	)
	reconciler.Start(context.Background())

	app := fiber.New(fiber.Config{
		AppName:      "modkeeper",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	srv.SetupMiddleware(app)
	srv.SetupRoutes(app)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		reconciler.Stop()

		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server resource shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s...", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}
