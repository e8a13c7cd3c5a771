package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/zapleads/crm-service/internal/service"
	"github.com/zapleads/crm-service/pkg/response"
	"github.com/zapleads/crm-service/pkg/validator"
)

type TenantHandler struct {
	service *service.TenantService
}

func NewTenantHandler(service *service.TenantService) *TenantHandler {
	return &TenantHandler{service: service}
}

type ProvisionTenantRequest struct {
	Name         string `json:"name" validate:"required,max=255"`
	DatabaseURL  string `json:"databaseUrl" validate:"required"`
	InstanceName string `json:"instanceName" validate:"required,max=255"`
	APIKey       string `json:"apiKey" validate:"required"`
	AgentPhone   string `json:"agentPhone,omitempty"`
}

// ProvisionTenant godoc
// @Summary Provision a tenant
// @Description Creates a tenant account with encrypted secrets and prepares its database schema
// @Tags tenants
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenant body ProvisionTenantRequest true "Tenant to provision"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants [post]
func (h *TenantHandler) ProvisionTenant(c echo.Context) error {
	var req ProvisionTenantRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	account, err := h.service.ProvisionTenant(
		c.Request().Context(), req.Name, req.DatabaseURL, req.InstanceName, req.APIKey, req.AgentPhone)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	// Secrets stay encrypted in the response; only identifiers are useful to
	// the caller anyway.
	return response.Created(c, "Tenant provisioned successfully", map[string]any{
		"id":   account.ID,
		"name": account.Name,
	})
}

// GetInstanceHealth godoc
// @Summary Get WhatsApp instance health
// @Description Returns the gateway's live session state and the last webhook-reported state
// @Tags tenants
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/instance [get]
func (h *TenantHandler) GetInstanceHealth(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	health, err := h.service.InstanceHealth(c.Request().Context(), tenantID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, health)
}

// ConnectInstance godoc
// @Summary Start WhatsApp pairing
// @Description Starts (or restarts) pairing and returns the QR code payload to scan
// @Tags tenants
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/instance/connect [post]
func (h *TenantHandler) ConnectInstance(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	qrCode, err := h.service.ConnectInstance(c.Request().Context(), tenantID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"qrCode": qrCode,
	})
}

// LogoutInstance godoc
// @Summary Log the WhatsApp instance out
// @Description Closes the tenant's WhatsApp session on the gateway
// @Tags tenants
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/instance/logout [post]
func (h *TenantHandler) LogoutInstance(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	if err := h.service.LogoutInstance(c.Request().Context(), tenantID); err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Instance logged out successfully", nil)
}

// GetRecentReceipts godoc
// @Summary Get recent delivery receipts
// @Description Returns the receipts cached for this tenant over the receipt TTL window
// @Tags tenants
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/receipts [get]
func (h *TenantHandler) GetRecentReceipts(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	receipts, err := h.service.RecentReceipts(c.Request().Context(), tenantID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, receipts)
}

// GetChatPreview godoc
// @Summary Get a chat transcript preview
// @Description Pulls the latest gateway-side messages exchanged with one phone number
// @Tags tenants
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Param phone path string true "Lead phone number"
// @Param limit query int false "Max messages (default: 20)"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/chats/{phone} [get]
func (h *TenantHandler) GetChatPreview(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	phone := c.Param("phone")
	if phone == "" {
		return response.BadRequest(c, fmt.Errorf("phone is required"))
	}

	limit := 20
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > 100 {
			return response.BadRequest(c, fmt.Errorf("limit must be between 1 and 100"))
		}
		limit = parsed
	}

	messages, err := h.service.ChatPreview(c.Request().Context(), tenantID, phone, limit)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, messages)
}
