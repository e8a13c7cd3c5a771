package routes

import (
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/zapleads/crm-service/environments"
	"github.com/zapleads/crm-service/handlers"
	"github.com/zapleads/crm-service/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	tenantHandler *handlers.TenantHandler,
	campaignHandler *handlers.CampaignHandler,
	workerHandler *handlers.WorkerHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// The gateway posts events here; it cannot carry our auth header, so the
	// route stays open and the service drops events it cannot attribute.
	e.POST("/webhooks/evolution", webhookHandler.ReceiveEvolutionEvent)

	// API v1 base group
	v1 := e.Group("/api/v1")

	// Tenant administration and CRM surface with the admin API key
	tenants := v1.Group("/tenants", middlewares.APIKeyAuth(cfg.Auth.AdminAPIKey))

	tenants.POST("", tenantHandler.ProvisionTenant)
	tenants.GET("/:tenantId/instance", tenantHandler.GetInstanceHealth)
	tenants.POST("/:tenantId/instance/connect", tenantHandler.ConnectInstance)
	tenants.POST("/:tenantId/instance/logout", tenantHandler.LogoutInstance)
	tenants.GET("/:tenantId/receipts", tenantHandler.GetRecentReceipts)
	tenants.GET("/:tenantId/chats/:phone", tenantHandler.GetChatPreview)

	tenants.POST("/:tenantId/campaigns", campaignHandler.CreateCampaign)
	tenants.GET("/:tenantId/campaigns", campaignHandler.ListCampaigns)
	tenants.POST("/:tenantId/campaigns/:id/cancel", campaignHandler.CancelCampaign)

	tenants.POST("/:tenantId/messages", campaignHandler.SendMessage)
	tenants.GET("/:tenantId/queue", campaignHandler.ListQueue)
	tenants.GET("/:tenantId/queue/stats", campaignHandler.GetQueueStats)
	tenants.POST("/:tenantId/queue/:id/replay", campaignHandler.ReplayMessage)

	// Pipeline triggers with their own API key so a cron does not need admin
	// access
	worker := v1.Group("/worker", middlewares.APIKeyAuth(cfg.Auth.WorkerAPIKey))

	worker.POST("/run", workerHandler.RunWorker)
	worker.POST("/reconcile", workerHandler.Reconcile)
	worker.POST("/scheduler/start", workerHandler.StartScheduler)
	worker.POST("/scheduler/stop", workerHandler.StopScheduler)
	worker.GET("/scheduler/status", workerHandler.GetSchedulerStatus)
}
