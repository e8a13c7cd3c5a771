package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/zapleads/crm-service/environments"
	"github.com/zapleads/crm-service/internal/scheduler"
	"github.com/zapleads/crm-service/internal/service"
	"github.com/zapleads/crm-service/pkg/response"
)

// WorkerHandler exposes manual triggers for the delivery pipeline and the
// scheduler lifecycle. An external cron hitting /run is equivalent to one
// scheduler tick.
type WorkerHandler struct {
	worker     *service.Worker
	reconciler *service.Reconciler
	scheduler  *scheduler.Scheduler
	ctx        context.Context
	config     *environments.Config
}

func NewWorkerHandler(
	worker *service.Worker,
	reconciler *service.Reconciler,
	sched *scheduler.Scheduler,
	ctx context.Context,
	cfg *environments.Config,
) *WorkerHandler {
	return &WorkerHandler{
		worker:     worker,
		reconciler: reconciler,
		scheduler:  sched,
		ctx:        ctx,
		config:     cfg,
	}
}

// RunWorker godoc
// @Summary Run one delivery pass
// @Description Drains every tenant's due queue entries once and returns the per-tenant results
// @Tags worker
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Worker API key"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/worker/run [post]
func (h *WorkerHandler) RunWorker(c echo.Context) error {
	summary, err := h.worker.DrainAllTenants(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, summary)
}

// Reconcile godoc
// @Summary Reconcile campaign statuses
// @Description Recomputes campaign lifecycle state from each tenant's delivery queue
// @Tags worker
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Worker API key"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/worker/reconcile [post]
func (h *WorkerHandler) Reconcile(c echo.Context) error {
	updated, err := h.reconciler.ReconcileCampaignStatuses(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"campaignsUpdated": updated,
	})
}

// StartScheduler godoc
// @Summary Start the delivery scheduler
// @Description Starts the periodic drain-and-reconcile loop
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Worker API key"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/worker/scheduler/start [post]
func (h *WorkerHandler) StartScheduler(c echo.Context) error {
	if h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already running", h.scheduler.GetStatus())
	}

	h.scheduler.ConfigureAlerts(h.config.Alert.WebhookURL, h.config.Alert.Threshold)

	if err := h.scheduler.Start(h.ctx); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler started successfully", h.scheduler.GetStatus())
}

// StopScheduler godoc
// @Summary Stop the delivery scheduler
// @Description Stops the periodic drain-and-reconcile loop
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Worker API key"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/worker/scheduler/stop [post]
func (h *WorkerHandler) StopScheduler(c echo.Context) error {
	if !h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already stopped", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Stop(); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler stopped successfully", h.scheduler.GetStatus())
}

// GetSchedulerStatus godoc
// @Summary Get scheduler status
// @Description Returns the scheduler's run statistics and alert state
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Worker API key"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/worker/scheduler/status [get]
func (h *WorkerHandler) GetSchedulerStatus(c echo.Context) error {
	return response.Ok(c, h.scheduler.GetStatus())
}
