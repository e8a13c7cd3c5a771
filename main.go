package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/zapleads/crm-service/environments"
	"github.com/zapleads/crm-service/handlers"
	"github.com/zapleads/crm-service/internal/instancecache"
	"github.com/zapleads/crm-service/internal/middlewares"
	"github.com/zapleads/crm-service/internal/repository"
	"github.com/zapleads/crm-service/internal/scheduler"
	"github.com/zapleads/crm-service/internal/service"
	"github.com/zapleads/crm-service/internal/tenantdb"
	"github.com/zapleads/crm-service/pkg/crypto"
	"github.com/zapleads/crm-service/pkg/database"
	"github.com/zapleads/crm-service/pkg/logger"
	"github.com/zapleads/crm-service/pkg/redis"
	"github.com/zapleads/crm-service/pkg/throttle"
	"github.com/zapleads/crm-service/pkg/validator"
	"github.com/zapleads/crm-service/routes"

	_ "github.com/zapleads/crm-service/docs" // swagger docs
)

// @title ZapLeads CRM Service API
// @version 1.0
// @description Multi-tenant WhatsApp CRM core: campaign delivery, webhook ingestion and tenant administration

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @schemes http https
func main() {
	logger.Init()

	// A .env is a development convenience; production sets real env vars.
	if err := godotenv.Load(); err != nil {
		logger.Debugf("No .env file loaded: %v", err)
	}

	cfg := environments.Load()

	// Hard-fail if required secrets are missing
	if cfg.Crypto.Secret == "" {
		logger.Fatalf("ENCRYPTION_SECRET is required but not set")
	}
	if cfg.Auth.AdminAPIKey == "" {
		logger.Fatalf("ADMIN_API_KEY is required but not set")
	}
	if cfg.Auth.WorkerAPIKey == "" {
		logger.Fatalf("WORKER_API_KEY is required but not set")
	}

	logger.Infof("Starting ZapLeads CRM Service...")

	// Central database holds tenant accounts; everything else lives in the
	// per-tenant databases reached through the router.
	centralDB, err := database.NewCentralDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to central database: %v", err)
	}

	if err := database.RunCentralMigrations(centralDB); err != nil {
		logger.Fatalf("Failed to run central migrations: %v", err)
	}

	// Init redis
	var redisClient *redis.Client
	redisClient, err = redis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warnf("Redis not available, receipt caching disabled: %v", err)
		redisClient = nil
	}

	cipher := crypto.New(cfg.Crypto.Secret)

	router := tenantdb.NewRouter(cfg.Worker.PoolCacheSize)

	tenantRepo := repository.NewTenantRepository(centralDB)
	instanceCache := instancecache.New(tenantRepo, router, cipher)

	sleeper := throttle.NewJitter(cfg.Worker.ThrottleMin, cfg.Worker.ThrottleMax)

	worker := service.NewWorker(tenantRepo, router, cipher, sleeper, redisClient, cfg.Evolution, cfg.Worker)
	reconciler := service.NewReconciler(tenantRepo, router, cipher)
	webhookService := service.NewWebhookService(instanceCache, redisClient)
	campaignService := service.NewCampaignService(tenantRepo, router, cipher)
	tenantService := service.NewTenantService(tenantRepo, router, cipher, redisClient, cfg.Evolution)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.NewScheduler(worker, reconciler, cfg.Worker.RunInterval)
	sched.ConfigureAlerts(cfg.Alert.WebhookURL, cfg.Alert.Threshold)

	healthHandler := handlers.NewHealthHandler(centralDB, redisClient)
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	tenantHandler := handlers.NewTenantHandler(tenantService)
	campaignHandler := handlers.NewCampaignHandler(campaignService)
	workerHandler := handlers.NewWorkerHandler(worker, reconciler, sched, ctx, cfg)

	// Auto-start scheduler
	if os.Getenv("AUTO_START_SCHEDULER") != "false" {
		logger.Infof("Auto-starting scheduler...")
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			middlewares.APIKeyHeader,
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, healthHandler, webhookHandler, tenantHandler, campaignHandler, workerHandler, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Cancel context to signal all goroutines to stop
	cancel()

	// Stop scheduler first (with timeout)
	if sched.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping scheduler: %v", err)
			} else {
				logger.Infof("Scheduler stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Scheduler stop timeout, forcing shutdown")
		}
	}

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Close tenant pools, the central database and Redis last
	router.Close()

	if err := centralDB.Close(); err != nil {
		logger.Errorf("Error closing central database: %v", err)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis connection: %v", err)
		}
	}

	logger.Infof("Shutdown complete")
}
