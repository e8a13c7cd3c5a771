package domain

import "time"

type LeadTag string

const (
	TagNew           LeadTag = "NEW"
	TagQualification LeadTag = "QUALIFICATION"
	TagProposal      LeadTag = "PROPOSAL"
	TagNegotiation   LeadTag = "NEGOTIATION"
	TagCustomer      LeadTag = "CUSTOMER"
	TagLost          LeadTag = "LOST"
)

// Lead is a prospective contact tracked through the pipeline. Phone is stored
// in canonical +<countrycode><number> form; one lead per distinct phone per
// tenant database.
type Lead struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone"`
	Tag       LeadTag   `db:"tag" json:"tag"`
	Interest  string    `db:"interest" json:"interest"`
	AIScore   *int      `db:"ai_score" json:"aiScore,omitempty"`
	AISummary *string   `db:"ai_summary" json:"aiSummary,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Contact is a tenant-local WhatsApp contact, created lazily on first inbound
// message or first outbound send.
type Contact struct {
	ID        int64     `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	Name      string    `db:"name" json:"name"`
	Manual    bool      `db:"manual" json:"manual"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type ChatDirection string

const (
	DirectionIncoming ChatDirection = "incoming"
	DirectionOutgoing ChatDirection = "outgoing"
)

// ChatHistoryEntry is an append-only audit record of a message exchanged with
// a contact. SessionID is "<leadPhone>_<agentPhone>".
type ChatHistoryEntry struct {
	ID        int64         `db:"id" json:"id"`
	ContactID int64         `db:"contact_id" json:"contactId"`
	SessionID string        `db:"session_id" json:"sessionId"`
	Direction ChatDirection `db:"direction" json:"direction"`
	Content   string        `db:"content" json:"content"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
}
