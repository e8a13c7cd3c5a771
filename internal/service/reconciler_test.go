package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/pkg/crypto"
)

type statusChange struct {
	id     int64
	status domain.CampaignStatus
}

type fakeCampaigns struct {
	progress []domain.CampaignProgress
	changes  []statusChange
}

func (f *fakeCampaigns) GetActiveProgress(ctx context.Context) ([]domain.CampaignProgress, error) {
	return f.progress, nil
}

func (f *fakeCampaigns) UpdateStatus(ctx context.Context, id int64, status domain.CampaignStatus) error {
	f.changes = append(f.changes, statusChange{id: id, status: status})

	// Mirror the write so a second pass sees the new state, like the real
	// repository would.
	for i := range f.progress {
		if f.progress[i].ID == id {
			f.progress[i].Status = status
		}
	}
	return nil
}

func newTestReconciler(campaigns *fakeCampaigns, now time.Time) *Reconciler {
	tenants := &fakeTenants{accounts: []domain.TenantAccount{
		{ID: 1, Name: "acme", DatabaseURL: "dsn-acme", InstanceName: "instance-acme", InstanceAPIKey: "k1"},
	}}

	r := NewReconciler(tenants, &fakeRouter{}, crypto.New("test-secret"))
	r.newCampaignRepo = func(db *sqlx.DB) campaignStore { return campaigns }
	r.now = func() time.Time { return now }
	return r
}

func TestReconcile_DrainedCampaignCompletes(t *testing.T) {
	now := time.Now()
	campaigns := &fakeCampaigns{progress: []domain.CampaignProgress{
		{ID: 1, Status: domain.CampaignProcessing, ScheduledAt: now.Add(-time.Hour), Total: 5, Pending: 0},
		{ID: 2, Status: domain.CampaignProcessing, ScheduledAt: now.Add(-time.Hour), Total: 5, Pending: 2},
	}}
	r := newTestReconciler(campaigns, now)

	updated, err := r.ReconcileCampaignStatuses(context.Background())
	if err != nil {
		t.Fatalf("ReconcileCampaignStatuses returned error: %v", err)
	}

	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}
	if len(campaigns.changes) != 1 {
		t.Fatalf("expected 1 status change, got %v", campaigns.changes)
	}
	if campaigns.changes[0].id != 1 || campaigns.changes[0].status != domain.CampaignCompleted {
		t.Errorf("unexpected change: %+v", campaigns.changes[0])
	}
}

func TestReconcile_DueScheduledCampaignStartsProcessing(t *testing.T) {
	now := time.Now()
	campaigns := &fakeCampaigns{progress: []domain.CampaignProgress{
		{ID: 1, Status: domain.CampaignScheduled, ScheduledAt: now.Add(-time.Minute), Total: 3, Pending: 3},
		{ID: 2, Status: domain.CampaignScheduled, ScheduledAt: now.Add(time.Hour), Total: 3, Pending: 3},
	}}
	r := newTestReconciler(campaigns, now)

	updated, err := r.ReconcileCampaignStatuses(context.Background())
	if err != nil {
		t.Fatalf("ReconcileCampaignStatuses returned error: %v", err)
	}

	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}
	if campaigns.changes[0].id != 1 || campaigns.changes[0].status != domain.CampaignProcessing {
		t.Errorf("unexpected change: %+v", campaigns.changes[0])
	}
}

func TestReconcile_CampaignWithNoMessagesStaysPut(t *testing.T) {
	now := time.Now()
	campaigns := &fakeCampaigns{progress: []domain.CampaignProgress{
		{ID: 1, Status: domain.CampaignScheduled, ScheduledAt: now.Add(-time.Minute), Total: 0, Pending: 0},
	}}
	r := newTestReconciler(campaigns, now)

	updated, err := r.ReconcileCampaignStatuses(context.Background())
	if err != nil {
		t.Fatalf("ReconcileCampaignStatuses returned error: %v", err)
	}

	if updated != 0 || len(campaigns.changes) != 0 {
		t.Errorf("empty campaign must not transition, got %v", campaigns.changes)
	}
}

func TestReconcile_SecondPassIsNoOp(t *testing.T) {
	now := time.Now()
	campaigns := &fakeCampaigns{progress: []domain.CampaignProgress{
		{ID: 1, Status: domain.CampaignProcessing, ScheduledAt: now.Add(-time.Hour), Total: 4, Pending: 0},
	}}
	r := newTestReconciler(campaigns, now)

	if _, err := r.ReconcileCampaignStatuses(context.Background()); err != nil {
		t.Fatalf("first pass returned error: %v", err)
	}

	// The real repository stops returning COMPLETED campaigns; the fake
	// mimics that by filtering here.
	var active []domain.CampaignProgress
	for _, p := range campaigns.progress {
		if p.Status == domain.CampaignScheduled || p.Status == domain.CampaignProcessing {
			active = append(active, p)
		}
	}
	campaigns.progress = active

	updated, err := r.ReconcileCampaignStatuses(context.Background())
	if err != nil {
		t.Fatalf("second pass returned error: %v", err)
	}

	if updated != 0 {
		t.Errorf("second pass updated = %d, want 0", updated)
	}
	if len(campaigns.changes) != 1 {
		t.Errorf("expected exactly one change across both passes, got %v", campaigns.changes)
	}
}
