package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
)

// TenantRepository reads tenant accounts from the central database.
type TenantRepository struct {
	db *sqlx.DB
}

func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, name, database_url, instance_name, instance_api_key, instance_phone, instance_hash, created_at, updated_at`

// GetConfigured returns accounts with both a tenant database and a gateway
// instance set up. Accounts missing either are skipped by the worker.
func (r *TenantRepository) GetConfigured(ctx context.Context) ([]domain.TenantAccount, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE database_url <> '' AND instance_name <> ''
		ORDER BY id ASC
	`

	var tenants []domain.TenantAccount
	if err := r.db.SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("failed to get configured tenants: %w", err)
	}

	return tenants, nil
}

// GetByID returns one account, or nil when it does not exist.
func (r *TenantRepository) GetByID(ctx context.Context, id int64) (*domain.TenantAccount, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE id = ?
	`

	var tenant domain.TenantAccount
	if err := r.db.GetContext(ctx, &tenant, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &tenant, nil
}

// GetByInstanceHash resolves an account by its precomputed instance hash.
// Returns nil when no account matches.
func (r *TenantRepository) GetByInstanceHash(ctx context.Context, hash string) (*domain.TenantAccount, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE instance_hash = ?
		LIMIT 1
	`

	var tenant domain.TenantAccount
	if err := r.db.GetContext(ctx, &tenant, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant by instance hash: %w", err)
	}

	return &tenant, nil
}

// GetUnhashed returns accounts that predate instance hashing. The self-heal
// scan is bounded to exactly this set.
func (r *TenantRepository) GetUnhashed(ctx context.Context) ([]domain.TenantAccount, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE instance_hash IS NULL AND instance_name <> ''
	`

	var tenants []domain.TenantAccount
	if err := r.db.SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("failed to get unhashed tenants: %w", err)
	}

	return tenants, nil
}

// SetInstanceHash backfills the hash column for an account. Idempotent.
func (r *TenantRepository) SetInstanceHash(ctx context.Context, id int64, hash string) error {
	query := `
		UPDATE tenants
		SET instance_hash = ?
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, hash, id); err != nil {
		return fmt.Errorf("failed to set instance hash: %w", err)
	}

	return nil
}

// Create provisions an account row. Secrets arrive already encrypted; the
// hash is computed by the caller from the plaintext instance name.
func (r *TenantRepository) Create(ctx context.Context, t *domain.TenantAccount) (int64, error) {
	query := `
		INSERT INTO tenants (name, database_url, instance_name, instance_api_key, instance_phone, instance_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		t.Name, t.DatabaseURL, t.InstanceName, t.InstanceAPIKey, t.InstancePhone, t.InstanceHash)
	if err != nil {
		return 0, fmt.Errorf("failed to create tenant: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}
