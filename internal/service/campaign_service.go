package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/internal/repository"
	"github.com/zapleads/crm-service/pkg/logger"
)

// ErrUnknownTenant is returned for operations addressed to a tenant id that
// does not exist or is not provisioned for WhatsApp.
var ErrUnknownTenant = errors.New("unknown or unprovisioned tenant")

const cancelledReason = "Campaign cancelled by user"

type tenantByID interface {
	GetByID(ctx context.Context, id int64) (*domain.TenantAccount, error)
}

type campaignAdminStore interface {
	Create(ctx context.Context, c *domain.Campaign) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Campaign, error)
	List(ctx context.Context, page, pageSize int) ([]domain.Campaign, int64, error)
	UpdateStatus(ctx context.Context, id int64, status domain.CampaignStatus) error
}

type queueAdminStore interface {
	Enqueue(ctx context.Context, campaignID *int64, leadID int64, content string, priority int, scheduledAt time.Time) (int64, error)
	CancelPending(ctx context.Context, campaignID int64, reason string) (int64, error)
	ReplayFailed(ctx context.Context, id int64) error
	ListByStatus(ctx context.Context, status *domain.MessageStatus, page, pageSize int) ([]domain.CampaignMessage, int64, error)
	StatusCounts(ctx context.Context) (map[domain.MessageStatus]int64, error)
}

type leadStore interface {
	GetLeadsByTag(ctx context.Context, tag *domain.LeadTag) ([]domain.Lead, error)
	GetLeadByPhone(ctx context.Context, phone string) (*domain.Lead, error)
}

// CampaignService covers the management surface of the delivery pipeline:
// creating and cancelling campaigns, unit sends, queue inspection and replay.
// Every operation addresses one tenant and runs against that tenant's
// database via the connection router.
type CampaignService struct {
	tenants tenantByID
	router  connectionRouter
	cipher  decrypter

	newCampaignRepo func(db *sqlx.DB) campaignAdminStore
	newQueueRepo    func(db *sqlx.DB) queueAdminStore
	newLeadRepo     func(db *sqlx.DB) leadStore
}

func NewCampaignService(tenants tenantByID, router connectionRouter, cipher decrypter) *CampaignService {
	return &CampaignService{
		tenants:         tenants,
		router:          router,
		cipher:          cipher,
		newCampaignRepo: func(db *sqlx.DB) campaignAdminStore { return repository.NewCampaignRepository(db) },
		newQueueRepo:    func(db *sqlx.DB) queueAdminStore { return repository.NewQueueRepository(db) },
		newLeadRepo:     func(db *sqlx.DB) leadStore { return repository.NewCRMRepository(db) },
	}
}

func (s *CampaignService) tenantDB(ctx context.Context, tenantID int64) (*sqlx.DB, error) {
	account, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.DatabaseURL == "" {
		return nil, ErrUnknownTenant
	}

	dsn, err := s.cipher.Decrypt(account.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt database URL: %w", err)
	}

	return s.router.Get(dsn)
}

// CreateCampaign inserts the campaign and materializes its delivery queue:
// one PENDING entry per targeted lead, payload rendered from the template.
func (s *CampaignService) CreateCampaign(
	ctx context.Context,
	tenantID int64,
	name, template string,
	targetTag *domain.LeadTag,
	scheduledAt time.Time,
) (*domain.Campaign, int, error) {
	db, err := s.tenantDB(ctx, tenantID)
	if err != nil {
		return nil, 0, err
	}

	leads, err := s.newLeadRepo(db).GetLeadsByTag(ctx, targetTag)
	if err != nil {
		return nil, 0, err
	}

	campaign := &domain.Campaign{
		Name:        name,
		Template:    template,
		TargetTag:   targetTag,
		Status:      domain.CampaignScheduled,
		ScheduledAt: scheduledAt,
	}

	campaigns := s.newCampaignRepo(db)

	id, err := campaigns.Create(ctx, campaign)
	if err != nil {
		return nil, 0, err
	}
	campaign.ID = id

	queue := s.newQueueRepo(db)
	enqueued := 0

	for _, lead := range leads {
		content := RenderTemplate(template, &lead)
		if _, err := queue.Enqueue(ctx, &id, lead.ID, content, 0, scheduledAt); err != nil {
			logger.Errorf("Failed to enqueue campaign %d message for lead %d: %v", id, lead.ID, err)
			continue
		}
		enqueued++
	}

	logger.Infof("Campaign %d created with %d queued messages", id, enqueued)

	return campaign, enqueued, nil
}

// CancelCampaign is the only path to CANCELLED: remaining PENDING entries are
// failed with an explicit reason and the campaign is closed.
func (s *CampaignService) CancelCampaign(ctx context.Context, tenantID, campaignID int64) (int64, error) {
	db, err := s.tenantDB(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	campaigns := s.newCampaignRepo(db)

	campaign, err := campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign == nil {
		return 0, fmt.Errorf("no campaign found with id %d", campaignID)
	}
	if campaign.Status == domain.CampaignCompleted || campaign.Status == domain.CampaignCancelled {
		return 0, fmt.Errorf("campaign %d is already %s", campaignID, campaign.Status)
	}

	cancelled, err := s.newQueueRepo(db).CancelPending(ctx, campaignID, cancelledReason)
	if err != nil {
		return 0, err
	}

	if err := campaigns.UpdateStatus(ctx, campaignID, domain.CampaignCancelled); err != nil {
		return cancelled, err
	}

	return cancelled, nil
}

// SendToLead enqueues a unit send (no owning campaign) for the lead with the
// given phone. The worker picks it up on its next pass.
func (s *CampaignService) SendToLead(ctx context.Context, tenantID int64, phone, content string, priority int) (int64, error) {
	db, err := s.tenantDB(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	lead, err := s.newLeadRepo(db).GetLeadByPhone(ctx, phone)
	if err != nil {
		return 0, err
	}
	if lead == nil {
		return 0, fmt.Errorf("no lead found with phone %s", phone)
	}

	return s.newQueueRepo(db).Enqueue(ctx, nil, lead.ID, content, priority, time.Now())
}

func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID int64, page, pageSize int) ([]domain.Campaign, int64, error) {
	db, err := s.tenantDB(ctx, tenantID)
	if err != nil {
		return nil, 0, err
	}

	return s.newCampaignRepo(db).List(ctx, page, pageSize)
}

func (s *CampaignService) ListQueue(ctx context.Context, tenantID int64, status *domain.MessageStatus, page, pageSize int) ([]domain.CampaignMessage, int64, error) {
	db, err := s.tenantDB(ctx, tenantID)
	if err != nil {
		return nil, 0, err
	}

	return s.newQueueRepo(db).ListByStatus(ctx, status, page, pageSize)
}

func (s *CampaignService) QueueStats(ctx context.Context, tenantID int64) (map[domain.MessageStatus]int64, error) {
	db, err := s.tenantDB(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return s.newQueueRepo(db).StatusCounts(ctx)
}

// ReplayMessage requeues one FAILED entry. Dead-lettered entries are terminal
// and stay that way.
func (s *CampaignService) ReplayMessage(ctx context.Context, tenantID, messageID int64) error {
	db, err := s.tenantDB(ctx, tenantID)
	if err != nil {
		return err
	}

	return s.newQueueRepo(db).ReplayFailed(ctx, messageID)
}

// RenderTemplate substitutes lead fields into a campaign template. Only the
// placeholders the dashboard documents are supported.
func RenderTemplate(template string, lead *domain.Lead) string {
	replacer := strings.NewReplacer(
		"{{name}}", lead.Name,
		"{{phone}}", lead.Phone,
	)
	return replacer.Replace(template)
}
