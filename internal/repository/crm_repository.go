package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
)

// CRMRepository covers leads, WhatsApp contacts and the chat-history audit
// trail inside one tenant database. Constructed per request around a handle
// from the tenant router.
type CRMRepository struct {
	db *sqlx.DB
}

func NewCRMRepository(db *sqlx.DB) *CRMRepository {
	return &CRMRepository{db: db}
}

func (r *CRMRepository) GetContactByPhone(ctx context.Context, phone string) (*domain.Contact, error) {
	query := `
		SELECT id, phone, name, manual, created_at
		FROM whatsapp_contacts
		WHERE phone = ?
		LIMIT 1
	`

	var contact domain.Contact
	if err := r.db.GetContext(ctx, &contact, query, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return &contact, nil
}

// UpsertContact returns the contact for a phone number, creating it when
// absent. Uniqueness per phone is enforced by this lookup-before-create, not
// by a constraint.
func (r *CRMRepository) UpsertContact(ctx context.Context, phone, name string, manual bool) (*domain.Contact, error) {
	existing, err := r.GetContactByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if name == "" {
		name = phone
	}

	query := `
		INSERT INTO whatsapp_contacts (phone, name, manual)
		VALUES (?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, phone, name, manual)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &domain.Contact{ID: id, Phone: phone, Name: name, Manual: manual}, nil
}

func (r *CRMRepository) GetLeadByPhone(ctx context.Context, phone string) (*domain.Lead, error) {
	query := `
		SELECT id, name, phone, tag, interest, ai_score, ai_summary, created_at, updated_at
		FROM leads
		WHERE phone = ?
		LIMIT 1
	`

	var lead domain.Lead
	if err := r.db.GetContext(ctx, &lead, query, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	return &lead, nil
}

func (r *CRMRepository) CreateLead(ctx context.Context, name, phone, interest string, tag domain.LeadTag) (*domain.Lead, error) {
	query := `
		INSERT INTO leads (name, phone, tag, interest)
		VALUES (?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, name, phone, tag, interest)
	if err != nil {
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &domain.Lead{ID: id, Name: name, Phone: phone, Tag: tag, Interest: interest}, nil
}

// TouchLead bumps updated_at so a re-contacting lead resurfaces in
// recency-sorted views. The pipeline tag is deliberately left alone.
func (r *CRMRepository) TouchLead(ctx context.Context, id int64) error {
	query := `
		UPDATE leads
		SET updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch lead: %w", err)
	}

	return nil
}

// GetLeadsByTag lists leads for campaign targeting. A nil tag targets all.
func (r *CRMRepository) GetLeadsByTag(ctx context.Context, tag *domain.LeadTag) ([]domain.Lead, error) {
	query := `
		SELECT id, name, phone, tag, interest, ai_score, ai_summary, created_at, updated_at
		FROM leads
	`
	args := []any{}

	if tag != nil {
		query += " WHERE tag = ?"
		args = append(args, *tag)
	}

	query += " ORDER BY updated_at DESC"

	var leads []domain.Lead
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get leads: %w", err)
	}

	return leads, nil
}

// AppendChatHistory writes one audit record. The table is append-only; the
// core never updates or deletes entries.
func (r *CRMRepository) AppendChatHistory(ctx context.Context, contactID int64, sessionID string, direction domain.ChatDirection, content string) error {
	query := `
		INSERT INTO chat_history (contact_id, session_id, direction, content)
		VALUES (?, ?, ?, ?)
	`

	if _, err := r.db.ExecContext(ctx, query, contactID, sessionID, direction, content); err != nil {
		return fmt.Errorf("failed to append chat history: %w", err)
	}

	return nil
}
