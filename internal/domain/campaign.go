package domain

import "time"

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "DRAFT"
	CampaignScheduled  CampaignStatus = "SCHEDULED"
	CampaignProcessing CampaignStatus = "PROCESSING"
	CampaignCompleted  CampaignStatus = "COMPLETED"
	CampaignCancelled  CampaignStatus = "CANCELLED"
)

type MessageStatus string

const (
	StatusPending    MessageStatus = "PENDING"
	StatusProcessing MessageStatus = "PROCESSING"
	StatusSent       MessageStatus = "SENT"
	StatusFailed     MessageStatus = "FAILED"
	StatusDeadLetter MessageStatus = "DEAD_LETTER"
)

// MaxRetries is the delivery retry budget. A failed send increments the
// entry's retry count; once the new count exceeds this value the entry is
// dead-lettered and never picked up again.
const MaxRetries = 3

type Campaign struct {
	ID          int64          `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Template    string         `db:"template" json:"template"`
	TargetTag   *LeadTag       `db:"target_tag" json:"targetTag,omitempty"`
	Status      CampaignStatus `db:"status" json:"status"`
	ScheduledAt time.Time      `db:"scheduled_at" json:"scheduledAt"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// CampaignMessage is one entry in the tenant's delivery queue. CampaignID is
// nil for unit sends. Priority is served highest first; within a priority
// band the queue is FIFO on ScheduledAt.
type CampaignMessage struct {
	ID          int64         `db:"id" json:"id"`
	CampaignID  *int64        `db:"campaign_id" json:"campaignId,omitempty"`
	LeadID      int64         `db:"lead_id" json:"leadId"`
	LeadPhone   string        `db:"lead_phone" json:"leadPhone"`
	LeadName    string        `db:"lead_name" json:"leadName"`
	Content     string        `db:"content" json:"content"`
	Status      MessageStatus `db:"status" json:"status"`
	LastError   *string       `db:"last_error" json:"lastError,omitempty"`
	RetryCount  int           `db:"retry_count" json:"retryCount"`
	Priority    int           `db:"priority" json:"priority"`
	ScheduledAt time.Time     `db:"scheduled_at" json:"scheduledAt"`
	SentAt      *time.Time    `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`
}

// CampaignProgress is a reconciliation view of one campaign and its queue.
type CampaignProgress struct {
	ID          int64          `db:"id"`
	Status      CampaignStatus `db:"status"`
	ScheduledAt time.Time      `db:"scheduled_at"`
	Total       int64          `db:"total"`
	Pending     int64          `db:"pending"`
}

// SentReceipt is the per-message record cached after a successful send so
// operators can inspect recent deliveries without hitting tenant databases.
type SentReceipt struct {
	Tenant    string    `json:"tenant"`
	MessageID int64     `json:"messageId"`
	Phone     string    `json:"phone"`
	SentAt    time.Time `json:"sentAt"`
}
