package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/internal/repository"
	"github.com/zapleads/crm-service/pkg/logger"
)

type campaignStore interface {
	GetActiveProgress(ctx context.Context) ([]domain.CampaignProgress, error)
	UpdateStatus(ctx context.Context, id int64, status domain.CampaignStatus) error
}

// Reconciler recomputes campaign lifecycle state from each tenant's delivery
// queue. Only SCHEDULED and PROCESSING campaigns are considered, which makes
// repeated passes with no new message activity no-ops.
type Reconciler struct {
	tenants tenantStore
	router  connectionRouter
	cipher  decrypter

	newCampaignRepo func(db *sqlx.DB) campaignStore
	now             func() time.Time
}

func NewReconciler(tenants tenantStore, router connectionRouter, cipher decrypter) *Reconciler {
	return &Reconciler{
		tenants:         tenants,
		router:          router,
		cipher:          cipher,
		newCampaignRepo: func(db *sqlx.DB) campaignStore { return repository.NewCampaignRepository(db) },
		now:             time.Now,
	}
}

// ReconcileCampaignStatuses returns how many campaigns changed state across
// all tenants. One tenant's failure is logged and skipped.
func (r *Reconciler) ReconcileCampaignStatuses(ctx context.Context) (int, error) {
	accounts, err := r.tenants.GetConfigured(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load tenants: %w", err)
	}

	updated := 0

	for i := range accounts {
		account := &accounts[i]

		count, err := r.reconcileTenant(ctx, account)
		if err != nil {
			logger.Tenant(account.Name).Errorf("Campaign reconciliation failed: %v", err)
			continue
		}

		updated += count
	}

	return updated, nil
}

func (r *Reconciler) reconcileTenant(ctx context.Context, account *domain.TenantAccount) (int, error) {
	dsn, err := r.cipher.Decrypt(account.DatabaseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt database URL: %w", err)
	}

	db, err := r.router.Get(dsn)
	if err != nil {
		return 0, err
	}

	campaigns := r.newCampaignRepo(db)

	progress, err := campaigns.GetActiveProgress(ctx)
	if err != nil {
		return 0, err
	}

	tlog := logger.Tenant(account.Name)
	now := r.now()
	updated := 0

	for _, p := range progress {
		next, change := nextCampaignStatus(&p, now)
		if !change {
			continue
		}

		if err := campaigns.UpdateStatus(ctx, p.ID, next); err != nil {
			tlog.Errorf("Failed to move campaign %d to %s: %v", p.ID, next, err)
			continue
		}

		tlog.Infof("Campaign %d: %s -> %s", p.ID, p.Status, next)
		updated++
	}

	return updated, nil
}

// nextCampaignStatus decides one campaign's transition: a batch with at least
// one message and nothing left PENDING or in flight is COMPLETED; a SCHEDULED
// campaign whose time has come starts PROCESSING. Everything else stays put.
func nextCampaignStatus(p *domain.CampaignProgress, now time.Time) (domain.CampaignStatus, bool) {
	if p.Total > 0 && p.Pending == 0 {
		return domain.CampaignCompleted, true
	}

	if p.Status == domain.CampaignScheduled && p.Total > 0 && !p.ScheduledAt.After(now) {
		return domain.CampaignProcessing, true
	}

	return p.Status, false
}
