package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
)

// CampaignRepository manages one tenant's campaigns.
type CampaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, template, target_tag, status, scheduled_at, created_at, updated_at`

func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) (int64, error) {
	query := `
		INSERT INTO campaigns (name, template, target_tag, status, scheduled_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		c.Name, c.Template, c.TargetTag, c.Status, c.ScheduledAt)
	if err != nil {
		return 0, fmt.Errorf("failed to create campaign: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE id = ?
	`

	var campaign domain.Campaign
	if err := r.db.GetContext(ctx, &campaign, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

func (r *CampaignRepository) List(ctx context.Context, page, pageSize int) ([]domain.Campaign, int64, error) {
	offset := (page - 1) * pageSize

	var totalCount int64
	if err := r.db.GetContext(ctx, &totalCount, "SELECT COUNT(*) FROM campaigns"); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	var campaigns []domain.Campaign
	if err := r.db.SelectContext(ctx, &campaigns, query, pageSize, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}

	return campaigns, totalCount, nil
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id int64, status domain.CampaignStatus) error {
	query := `
		UPDATE campaigns
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	return nil
}

// GetActiveProgress returns every SCHEDULED or PROCESSING campaign together
// with its total and still-pending message counts, which is all the
// reconciler needs to decide lifecycle transitions.
func (r *CampaignRepository) GetActiveProgress(ctx context.Context) ([]domain.CampaignProgress, error) {
	query := `
		SELECT c.id, c.status, c.scheduled_at,
		       COUNT(cm.id) AS total,
		       COALESCE(SUM(CASE WHEN cm.status IN (?, ?) THEN 1 ELSE 0 END), 0) AS pending
		FROM campaigns c
		LEFT JOIN campaign_messages cm ON cm.campaign_id = c.id
		WHERE c.status IN (?, ?)
		GROUP BY c.id, c.status, c.scheduled_at
	`

	var progress []domain.CampaignProgress
	err := r.db.SelectContext(ctx, &progress, query,
		domain.StatusPending, domain.StatusProcessing,
		domain.CampaignScheduled, domain.CampaignProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign progress: %w", err)
	}

	return progress, nil
}
