package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
)

// QueueRepository manages one tenant's delivery queue (campaign_messages).
// Status transitions outside campaign cancellation belong exclusively to the
// delivery worker.
type QueueRepository struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

const queueColumns = `
	cm.id, cm.campaign_id, cm.lead_id, cm.content, cm.status, cm.last_error,
	cm.retry_count, cm.priority, cm.scheduled_at, cm.sent_at, cm.created_at, cm.updated_at,
	l.phone AS lead_phone, l.name AS lead_name
`

// GetDueBatch fetches retryable entries: PENDING or FAILED with retry budget
// left and a scheduled time in the past. Highest priority first, oldest first
// within a priority band. DEAD_LETTER is excluded by construction.
func (r *QueueRepository) GetDueBatch(ctx context.Context, limit int, now time.Time) ([]domain.CampaignMessage, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM campaign_messages cm
		JOIN leads l ON l.id = cm.lead_id
		WHERE cm.status IN (?, ?)
		  AND cm.retry_count <= ?
		  AND cm.scheduled_at <= ?
		ORDER BY cm.priority DESC, cm.scheduled_at ASC
		LIMIT ?
	`

	var messages []domain.CampaignMessage
	err := r.db.SelectContext(ctx, &messages, query,
		domain.StatusPending, domain.StatusFailed, domain.MaxRetries, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due batch: %w", err)
	}

	return messages, nil
}

// MarkProcessing flags an entry as in flight so dashboards reading the queue
// concurrently see it as taken.
func (r *QueueRepository) MarkProcessing(ctx context.Context, id int64) error {
	query := `
		UPDATE campaign_messages
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, domain.StatusProcessing, id); err != nil {
		return fmt.Errorf("failed to mark message as processing: %w", err)
	}

	return nil
}

func (r *QueueRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	query := `
		UPDATE campaign_messages
		SET status = ?, sent_at = ?, last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, domain.StatusSent, sentAt, id); err != nil {
		return fmt.Errorf("failed to mark message as sent: %w", err)
	}

	return nil
}

// MarkFailure records an attempt failure: the caller passes the incremented
// retry count and the status it resolved to (FAILED or DEAD_LETTER).
func (r *QueueRepository) MarkFailure(ctx context.Context, id int64, status domain.MessageStatus, retryCount int, errText string) error {
	query := `
		UPDATE campaign_messages
		SET status = ?, retry_count = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, status, retryCount, errText, id); err != nil {
		return fmt.Errorf("failed to mark message failure: %w", err)
	}

	return nil
}

// Enqueue inserts one queue entry. campaignID is nil for unit sends.
func (r *QueueRepository) Enqueue(ctx context.Context, campaignID *int64, leadID int64, content string, priority int, scheduledAt time.Time) (int64, error) {
	query := `
		INSERT INTO campaign_messages (campaign_id, lead_id, content, status, priority, scheduled_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		campaignID, leadID, content, domain.StatusPending, priority, scheduledAt)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

// CancelPending fails every remaining PENDING entry of a campaign with the
// given reason. Part of explicit campaign cancellation only.
func (r *QueueRepository) CancelPending(ctx context.Context, campaignID int64, reason string) (int64, error) {
	query := `
		UPDATE campaign_messages
		SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE campaign_id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		domain.StatusFailed, reason, campaignID, domain.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending messages: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// ReplayFailed resets a FAILED entry for a fresh pickup. Dead-lettered
// entries are terminal and are deliberately not matched here.
func (r *QueueRepository) ReplayFailed(ctx context.Context, id int64) error {
	query := `
		UPDATE campaign_messages
		SET status = ?, last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query, domain.StatusPending, id, domain.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("no failed message found with id %d", id)
	}

	return nil
}

func (r *QueueRepository) ListByStatus(ctx context.Context, status *domain.MessageStatus, page, pageSize int) ([]domain.CampaignMessage, int64, error) {
	offset := (page - 1) * pageSize

	var totalCount int64
	var messages []domain.CampaignMessage

	if status != nil {
		countQuery := "SELECT COUNT(*) FROM campaign_messages WHERE status = ?"
		if err := r.db.GetContext(ctx, &totalCount, countQuery, *status); err != nil {
			return nil, 0, fmt.Errorf("failed to count messages: %w", err)
		}

		query := `
			SELECT ` + queueColumns + `
			FROM campaign_messages cm
			JOIN leads l ON l.id = cm.lead_id
			WHERE cm.status = ?
			ORDER BY cm.created_at DESC
			LIMIT ? OFFSET ?
		`
		if err := r.db.SelectContext(ctx, &messages, query, *status, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to list messages: %w", err)
		}
	} else {
		countQuery := "SELECT COUNT(*) FROM campaign_messages"
		if err := r.db.GetContext(ctx, &totalCount, countQuery); err != nil {
			return nil, 0, fmt.Errorf("failed to count messages: %w", err)
		}

		query := `
			SELECT ` + queueColumns + `
			FROM campaign_messages cm
			JOIN leads l ON l.id = cm.lead_id
			ORDER BY cm.created_at DESC
			LIMIT ? OFFSET ?
		`
		if err := r.db.SelectContext(ctx, &messages, query, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to list messages: %w", err)
		}
	}

	return messages, totalCount, nil
}

// StatusCounts returns the queue broken down by status for dashboards.
func (r *QueueRepository) StatusCounts(ctx context.Context) (map[domain.MessageStatus]int64, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM campaign_messages
		GROUP BY status
	`

	var rows []struct {
		Status domain.MessageStatus `db:"status"`
		Count  int64                `db:"count"`
	}

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get status counts: %w", err)
	}

	counts := make(map[domain.MessageStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}
