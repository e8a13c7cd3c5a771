package domain

import "time"

// TenantAccount is a row in the central database. The database URL, gateway
// instance name and gateway API key are stored encrypted; InstanceHash is a
// one-way hash of the decrypted instance name so inbound webhooks can be
// routed without decrypting every account.
type TenantAccount struct {
	ID             int64      `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	DatabaseURL    string     `db:"database_url" json:"-"`
	InstanceName   string     `db:"instance_name" json:"-"`
	InstanceAPIKey string     `db:"instance_api_key" json:"-"`
	InstancePhone  string     `db:"instance_phone" json:"instancePhone"`
	InstanceHash   *string    `db:"instance_hash" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
}

// HasWhatsApp reports whether the account is fully provisioned for delivery:
// both a tenant database and a gateway instance must be configured.
func (t *TenantAccount) HasWhatsApp() bool {
	return t.DatabaseURL != "" && t.InstanceName != ""
}

// TenantSecrets holds an account's decrypted credentials for the duration of
// one batch. Never persisted.
type TenantSecrets struct {
	DatabaseURL  string
	InstanceName string
	APIKey       string
	AgentPhone   string
}

// BatchResult summarizes one tenant's drain pass over its delivery queue.
type BatchResult struct {
	Processed    int      `json:"processed"`
	Sent         int      `json:"sent"`
	Failed       int      `json:"failed"`
	DeadLettered int      `json:"deadLettered"`
	Errors       []string `json:"errors,omitempty"`
}

// DrainSummary aggregates the per-tenant results of one full worker pass.
type DrainSummary struct {
	Tenants int                     `json:"tenants"`
	Results map[string]*BatchResult `json:"results"`
}
