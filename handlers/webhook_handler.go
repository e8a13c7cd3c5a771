package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/internal/service"
	"github.com/zapleads/crm-service/pkg/response"
	"github.com/zapleads/crm-service/pkg/validator"
)

type WebhookHandler struct {
	service *service.WebhookService
}

func NewWebhookHandler(service *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// ReceiveEvolutionEvent godoc
// @Summary Receive an Evolution API webhook event
// @Description Ingests gateway events: inbound messages, delivery receipts and connection state changes
// @Tags webhooks
// @Accept json
// @Produce json
// @Param event body domain.WebhookEvent true "Gateway event"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /webhooks/evolution [post]
func (h *WebhookHandler) ReceiveEvolutionEvent(c echo.Context) error {
	var event domain.WebhookEvent
	if err := c.Bind(&event); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&event); err != nil {
		return validator.HandleValidationError(c, err)
	}

	result, err := h.service.HandleWebhookEvent(c.Request().Context(), &event)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, result)
}
