package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/internal/service"
	"github.com/zapleads/crm-service/pkg/response"
	"github.com/zapleads/crm-service/pkg/validator"
)

type CampaignHandler struct {
	service *service.CampaignService
}

func NewCampaignHandler(service *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{service: service}
}

type CreateCampaignRequest struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Template    string  `json:"template" validate:"required,max=1000"`
	TargetTag   *string `json:"targetTag,omitempty" validate:"omitempty,oneof=NEW QUALIFICATION PROPOSAL NEGOTIATION CUSTOMER LOST"`
	ScheduledAt *string `json:"scheduledAt,omitempty"`
}

type SendMessageRequest struct {
	Phone    string `json:"phone" validate:"required"`
	Content  string `json:"content" validate:"required,max=1000"`
	Priority int    `json:"priority" validate:"min=0,max=100"`
}

// CreateCampaign godoc
// @Summary Create a campaign
// @Description Creates a campaign and queues one message per targeted lead
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Param campaign body CreateCampaignRequest true "Campaign to create"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req CreateCampaignRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	var targetTag *domain.LeadTag
	if req.TargetTag != nil {
		tag := domain.LeadTag(*req.TargetTag)
		targetTag = &tag
	}

	scheduledAt := time.Now()
	if req.ScheduledAt != nil {
		parsed, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			return response.BadRequest(c, fmt.Errorf("scheduledAt must be RFC3339"))
		}
		scheduledAt = parsed
	}

	campaign, enqueued, err := h.service.CreateCampaign(
		c.Request().Context(), tenantID, req.Name, req.Template, targetTag, scheduledAt)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Campaign created successfully", map[string]any{
		"campaign": campaign,
		"enqueued": enqueued,
	})
}

// ListCampaigns godoc
// @Summary List campaigns
// @Description Retrieves a paginated list of the tenant's campaigns
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/campaigns [get]
func (h *CampaignHandler) ListCampaigns(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	campaigns, totalCount, err := h.service.ListCampaigns(c.Request().Context(), tenantID, page, pageSize)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, campaigns, page, pageSize, totalCount)
}

// CancelCampaign godoc
// @Summary Cancel a campaign
// @Description Fails the campaign's remaining pending messages and closes the campaign
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/campaigns/{id}/cancel [post]
func (h *CampaignHandler) CancelCampaign(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	campaignID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return response.BadRequest(c, fmt.Errorf("invalid campaign id"))
	}

	cancelled, err := h.service.CancelCampaign(c.Request().Context(), tenantID, campaignID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Campaign cancelled successfully", map[string]any{
		"cancelledMessages": cancelled,
	})
}

// SendMessage godoc
// @Summary Queue a one-off message
// @Description Queues a message to a single lead outside any campaign
// @Tags messages
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Param message body SendMessageRequest true "Message to queue"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/messages [post]
func (h *CampaignHandler) SendMessage(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	id, err := h.service.SendToLead(c.Request().Context(), tenantID, req.Phone, req.Content, req.Priority)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.BadRequest(c, err)
	}

	return response.Created(c, "Message queued successfully", map[string]any{
		"messageId": id,
	})
}

// ListQueue godoc
// @Summary List delivery queue entries
// @Description Retrieves a paginated list of queue entries with optional status filter
// @Tags queue
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param status query string false "Filter by status (PENDING, PROCESSING, SENT, FAILED, DEAD_LETTER)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/queue [get]
func (h *CampaignHandler) ListQueue(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var status *domain.MessageStatus
	if statusStr := c.QueryParam("status"); statusStr != "" {
		parsed := domain.MessageStatus(statusStr)
		status = &parsed
	}

	entries, totalCount, err := h.service.ListQueue(c.Request().Context(), tenantID, status, page, pageSize)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, entries, page, pageSize, totalCount)
}

// GetQueueStats godoc
// @Summary Get queue statistics
// @Description Returns count of queue entries by status
// @Tags queue
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/queue/stats [get]
func (h *CampaignHandler) GetQueueStats(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	counts, err := h.service.QueueStats(c.Request().Context(), tenantID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.InternalServerError(c, err)
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	return response.Ok(c, map[string]any{
		"byStatus": counts,
		"total":    total,
	})
}

// ReplayMessage godoc
// @Summary Replay a failed queue entry
// @Description Requeues one FAILED entry for the next worker pass; dead-lettered entries stay terminal
// @Tags queue
// @Accept json
// @Produce json
// @Param x-crm-auth-key header string true "Admin API key"
// @Param tenantId path int true "Tenant ID"
// @Param id path int true "Queue entry ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/tenants/{tenantId}/queue/{id}/replay [post]
func (h *CampaignHandler) ReplayMessage(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return response.BadRequest(c, fmt.Errorf("invalid message id"))
	}

	if err := h.service.ReplayMessage(c.Request().Context(), tenantID, messageID); err != nil {
		if errors.Is(err, service.ErrUnknownTenant) {
			return response.NotFound(c, err.Error())
		}
		return response.BadRequest(c, err)
	}

	return response.OkWithMessage(c, "Message requeued successfully", nil)
}

func parseTenantID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("tenantId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tenant id")
	}
	return id, nil
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	page := defaultPage
	if pageStr := c.QueryParam("page"); pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	pageSize := defaultPageSize
	if pageSizeStr := c.QueryParam("pageSize"); pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}
		pageSize = ps
	}

	return page, pageSize, nil
}
