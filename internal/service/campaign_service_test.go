package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/pkg/crypto"
)

type fakeTenantDirectory struct {
	accounts map[int64]*domain.TenantAccount
}

func (f *fakeTenantDirectory) GetByID(ctx context.Context, id int64) (*domain.TenantAccount, error) {
	return f.accounts[id], nil
}

type enqueuedMessage struct {
	campaignID *int64
	leadID     int64
	content    string
	priority   int
}

type fakeAdminQueue struct {
	enqueued      []enqueuedMessage
	cancelCalls   []int64
	cancelReasons []string
	replayed      []int64
	replayErr     error
}

func (f *fakeAdminQueue) Enqueue(ctx context.Context, campaignID *int64, leadID int64, content string, priority int, scheduledAt time.Time) (int64, error) {
	f.enqueued = append(f.enqueued, enqueuedMessage{campaignID: campaignID, leadID: leadID, content: content, priority: priority})
	return int64(len(f.enqueued)), nil
}

func (f *fakeAdminQueue) CancelPending(ctx context.Context, campaignID int64, reason string) (int64, error) {
	f.cancelCalls = append(f.cancelCalls, campaignID)
	f.cancelReasons = append(f.cancelReasons, reason)
	return 3, nil
}

func (f *fakeAdminQueue) ReplayFailed(ctx context.Context, id int64) error {
	if f.replayErr != nil {
		return f.replayErr
	}
	f.replayed = append(f.replayed, id)
	return nil
}

func (f *fakeAdminQueue) ListByStatus(ctx context.Context, status *domain.MessageStatus, page, pageSize int) ([]domain.CampaignMessage, int64, error) {
	return nil, 0, nil
}

func (f *fakeAdminQueue) StatusCounts(ctx context.Context) (map[domain.MessageStatus]int64, error) {
	return map[domain.MessageStatus]int64{domain.StatusPending: 2, domain.StatusSent: 5}, nil
}

type fakeAdminCampaigns struct {
	campaigns map[int64]*domain.Campaign
	nextID    int64
	statuses  []statusChange
}

func (f *fakeAdminCampaigns) Create(ctx context.Context, c *domain.Campaign) (int64, error) {
	f.nextID++
	if f.campaigns == nil {
		f.campaigns = make(map[int64]*domain.Campaign)
	}
	stored := *c
	stored.ID = f.nextID
	f.campaigns[f.nextID] = &stored
	return f.nextID, nil
}

func (f *fakeAdminCampaigns) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	return f.campaigns[id], nil
}

func (f *fakeAdminCampaigns) List(ctx context.Context, page, pageSize int) ([]domain.Campaign, int64, error) {
	return nil, int64(len(f.campaigns)), nil
}

func (f *fakeAdminCampaigns) UpdateStatus(ctx context.Context, id int64, status domain.CampaignStatus) error {
	f.statuses = append(f.statuses, statusChange{id: id, status: status})
	if c, ok := f.campaigns[id]; ok {
		c.Status = status
	}
	return nil
}

type fakeLeads struct {
	byTag   []domain.Lead
	byPhone map[string]*domain.Lead
}

func (f *fakeLeads) GetLeadsByTag(ctx context.Context, tag *domain.LeadTag) ([]domain.Lead, error) {
	if tag == nil {
		return f.byTag, nil
	}
	var out []domain.Lead
	for _, l := range f.byTag {
		if l.Tag == *tag {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLeads) GetLeadByPhone(ctx context.Context, phone string) (*domain.Lead, error) {
	return f.byPhone[phone], nil
}

func newTestCampaignService(campaigns *fakeAdminCampaigns, queue *fakeAdminQueue, leads *fakeLeads) *CampaignService {
	tenants := &fakeTenantDirectory{accounts: map[int64]*domain.TenantAccount{
		1: {ID: 1, Name: "acme", DatabaseURL: "dsn-acme", InstanceName: "instance-acme", InstanceAPIKey: "k1"},
	}}

	s := NewCampaignService(tenants, &fakeRouter{}, crypto.New("test-secret"))
	s.newCampaignRepo = func(db *sqlx.DB) campaignAdminStore { return campaigns }
	s.newQueueRepo = func(db *sqlx.DB) queueAdminStore { return queue }
	s.newLeadRepo = func(db *sqlx.DB) leadStore { return leads }
	return s
}

func TestCreateCampaign_QueuesRenderedMessagePerTargetedLead(t *testing.T) {
	campaigns := &fakeAdminCampaigns{}
	queue := &fakeAdminQueue{}
	leads := &fakeLeads{byTag: []domain.Lead{
		{ID: 1, Name: "Maria", Phone: "+5511911111111", Tag: domain.TagNew},
		{ID: 2, Name: "Paulo", Phone: "+5511922222222", Tag: domain.TagNew},
		{ID: 3, Name: "Ana", Phone: "+5511933333333", Tag: domain.TagCustomer},
	}}
	s := newTestCampaignService(campaigns, queue, leads)

	tag := domain.TagNew
	campaign, enqueued, err := s.CreateCampaign(
		context.Background(), 1, "welcome", "Oi {{name}}, tudo bem?", &tag, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateCampaign returned error: %v", err)
	}

	if campaign.Status != domain.CampaignScheduled {
		t.Errorf("status = %q, want %q", campaign.Status, domain.CampaignScheduled)
	}
	if enqueued != 2 {
		t.Errorf("enqueued = %d, want 2", enqueued)
	}

	if len(queue.enqueued) != 2 {
		t.Fatalf("expected 2 queue entries, got %d", len(queue.enqueued))
	}
	first := queue.enqueued[0]
	if first.content != "Oi Maria, tudo bem?" {
		t.Errorf("rendered content = %q", first.content)
	}
	if first.campaignID == nil || *first.campaignID != campaign.ID {
		t.Errorf("entry not linked to campaign %d: %+v", campaign.ID, first)
	}
}

func TestCreateCampaign_UnknownTenant(t *testing.T) {
	s := newTestCampaignService(&fakeAdminCampaigns{}, &fakeAdminQueue{}, &fakeLeads{})

	_, _, err := s.CreateCampaign(context.Background(), 99, "welcome", "Oi", nil, time.Now())
	if err != ErrUnknownTenant {
		t.Errorf("err = %v, want ErrUnknownTenant", err)
	}
}

func TestCancelCampaign_FailsPendingAndClosesCampaign(t *testing.T) {
	campaigns := &fakeAdminCampaigns{campaigns: map[int64]*domain.Campaign{
		5: {ID: 5, Name: "welcome", Status: domain.CampaignProcessing},
	}}
	queue := &fakeAdminQueue{}
	s := newTestCampaignService(campaigns, queue, &fakeLeads{})

	cancelled, err := s.CancelCampaign(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("CancelCampaign returned error: %v", err)
	}

	if cancelled != 3 {
		t.Errorf("cancelled = %d, want 3", cancelled)
	}
	if len(queue.cancelCalls) != 1 || queue.cancelCalls[0] != 5 {
		t.Errorf("unexpected cancel calls: %v", queue.cancelCalls)
	}
	if queue.cancelReasons[0] != cancelledReason {
		t.Errorf("reason = %q, want %q", queue.cancelReasons[0], cancelledReason)
	}
	if campaigns.campaigns[5].Status != domain.CampaignCancelled {
		t.Errorf("campaign status = %q, want CANCELLED", campaigns.campaigns[5].Status)
	}
}

func TestCancelCampaign_RefusesTerminalStates(t *testing.T) {
	for _, status := range []domain.CampaignStatus{domain.CampaignCompleted, domain.CampaignCancelled} {
		campaigns := &fakeAdminCampaigns{campaigns: map[int64]*domain.Campaign{
			5: {ID: 5, Status: status},
		}}
		queue := &fakeAdminQueue{}
		s := newTestCampaignService(campaigns, queue, &fakeLeads{})

		if _, err := s.CancelCampaign(context.Background(), 1, 5); err == nil {
			t.Errorf("expected error cancelling %s campaign", status)
		}
		if len(queue.cancelCalls) != 0 {
			t.Errorf("terminal campaign must not touch the queue, got %v", queue.cancelCalls)
		}
	}
}

func TestSendToLead_EnqueuesDetachedEntry(t *testing.T) {
	queue := &fakeAdminQueue{}
	leads := &fakeLeads{byPhone: map[string]*domain.Lead{
		"+5511911111111": {ID: 9, Name: "Maria", Phone: "+5511911111111"},
	}}
	s := newTestCampaignService(&fakeAdminCampaigns{}, queue, leads)

	id, err := s.SendToLead(context.Background(), 1, "+5511911111111", "Sua proposta saiu", 5)
	if err != nil {
		t.Fatalf("SendToLead returned error: %v", err)
	}
	if id == 0 {
		t.Error("expected a queue id")
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(queue.enqueued))
	}
	entry := queue.enqueued[0]
	if entry.campaignID != nil {
		t.Errorf("unit send must not belong to a campaign, got %v", *entry.campaignID)
	}
	if entry.leadID != 9 || entry.priority != 5 {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestSendToLead_UnknownPhone(t *testing.T) {
	s := newTestCampaignService(&fakeAdminCampaigns{}, &fakeAdminQueue{}, &fakeLeads{})

	if _, err := s.SendToLead(context.Background(), 1, "+5500000000000", "Oi", 0); err == nil {
		t.Error("expected error for unknown lead phone")
	}
}

func TestReplayMessage_PropagatesRepositoryRefusal(t *testing.T) {
	queue := &fakeAdminQueue{replayErr: fmt.Errorf("no failed message found with id 12")}
	s := newTestCampaignService(&fakeAdminCampaigns{}, queue, &fakeLeads{})

	err := s.ReplayMessage(context.Background(), 1, 12)
	if err == nil || err.Error() != "no failed message found with id 12" {
		t.Errorf("err = %v", err)
	}
}

func TestRenderTemplate(t *testing.T) {
	lead := &domain.Lead{Name: "Maria", Phone: "+5511911111111"}

	got := RenderTemplate("Oi {{name}}, confirma no {{phone}}?", lead)
	want := "Oi Maria, confirma no +5511911111111?"
	if got != want {
		t.Errorf("RenderTemplate = %q, want %q", got, want)
	}

	if got := RenderTemplate("sem placeholder", lead); got != "sem placeholder" {
		t.Errorf("RenderTemplate = %q", got)
	}
}
