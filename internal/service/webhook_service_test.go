package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/internal/instancecache"
)

type fakeResolver struct {
	resolutions map[string]*instancecache.Resolution
	calls       int
}

func (f *fakeResolver) Resolve(ctx context.Context, instanceID string) (*instancecache.Resolution, error) {
	f.calls++
	if r, ok := f.resolutions[instanceID]; ok {
		return r, nil
	}
	return nil, instancecache.ErrTenantNotFound
}

type createdLead struct {
	name     string
	phone    string
	interest string
	tag      domain.LeadTag
}

type fakeIngest struct {
	leads map[string]*domain.Lead

	upserts []string
	created []createdLead
	touched []int64
}

func (f *fakeIngest) UpsertContact(ctx context.Context, phone, name string, manual bool) (*domain.Contact, error) {
	f.upserts = append(f.upserts, phone)
	return &domain.Contact{ID: 1, Phone: phone, Name: name}, nil
}

func (f *fakeIngest) GetLeadByPhone(ctx context.Context, phone string) (*domain.Lead, error) {
	return f.leads[phone], nil
}

func (f *fakeIngest) CreateLead(ctx context.Context, name, phone, interest string, tag domain.LeadTag) (*domain.Lead, error) {
	f.created = append(f.created, createdLead{name: name, phone: phone, interest: interest, tag: tag})
	return &domain.Lead{ID: 42, Name: name, Phone: phone, Tag: tag}, nil
}

func (f *fakeIngest) TouchLead(ctx context.Context, id int64) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakeStateCache struct {
	states map[string]string
}

func (f *fakeStateCache) SetConnectionState(ctx context.Context, instance, state string) error {
	if f.states == nil {
		f.states = make(map[string]string)
	}
	f.states[instance] = state
	return nil
}

func newTestWebhookService(resolver *fakeResolver, ingest *fakeIngest) *WebhookService {
	s := NewWebhookService(resolver, nil)
	s.newIngestRepo = func(db *sqlx.DB) ingestStore { return ingest }
	return s
}

func upsertEvent(instance, remoteJID, pushName string, fromMe bool) *domain.WebhookEvent {
	payload, _ := json.Marshal(map[string]any{
		"key": map[string]any{
			"remoteJid": remoteJID,
			"fromMe":    fromMe,
			"id":        "ABCDEF123",
		},
		"pushName": pushName,
		"message":  map[string]any{"conversation": "Oi, tenho interesse"},
	})

	return &domain.WebhookEvent{
		Event:    domain.EventMessagesUpsert,
		Instance: instance,
		Data:     payload,
	}
}

func TestHandleWebhookEvent_InboundMessageCreatesLead(t *testing.T) {
	resolver := &fakeResolver{resolutions: map[string]*instancecache.Resolution{
		"instance-acme": {TenantID: 1, TenantName: "acme"},
	}}
	ingest := &fakeIngest{}
	s := newTestWebhookService(resolver, ingest)

	event := upsertEvent("instance-acme", "5511988888888@s.whatsapp.net", "Maria", false)

	result, err := s.HandleWebhookEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}

	if result.Action != domain.ActionMessageSaved {
		t.Errorf("action = %q, want %q", result.Action, domain.ActionMessageSaved)
	}
	if result.Phone != "+5511988888888" {
		t.Errorf("phone = %q, want +5511988888888", result.Phone)
	}

	if len(ingest.upserts) != 1 || ingest.upserts[0] != "+5511988888888" {
		t.Errorf("unexpected contact upserts: %v", ingest.upserts)
	}

	if len(ingest.created) != 1 {
		t.Fatalf("expected 1 created lead, got %d", len(ingest.created))
	}
	lead := ingest.created[0]
	if lead.name != "Maria" || lead.phone != "+5511988888888" {
		t.Errorf("unexpected lead: %+v", lead)
	}
	if lead.interest != inboundInterest {
		t.Errorf("interest = %q, want %q", lead.interest, inboundInterest)
	}
	if lead.tag != domain.TagNew {
		t.Errorf("tag = %q, want %q", lead.tag, domain.TagNew)
	}
}

func TestHandleWebhookEvent_KnownLeadIsTouchedNotRetagged(t *testing.T) {
	resolver := &fakeResolver{resolutions: map[string]*instancecache.Resolution{
		"instance-acme": {TenantID: 1, TenantName: "acme"},
	}}
	ingest := &fakeIngest{leads: map[string]*domain.Lead{
		"+5511988888888": {ID: 7, Phone: "+5511988888888", Tag: domain.TagNegotiation},
	}}
	s := newTestWebhookService(resolver, ingest)

	event := upsertEvent("instance-acme", "5511988888888@s.whatsapp.net", "Maria", false)

	result, err := s.HandleWebhookEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}

	if result.Action != domain.ActionMessageSaved {
		t.Errorf("action = %q", result.Action)
	}
	if len(ingest.created) != 0 {
		t.Errorf("existing lead must not be recreated, got %v", ingest.created)
	}
	if len(ingest.touched) != 1 || ingest.touched[0] != 7 {
		t.Errorf("expected lead 7 touched, got %v", ingest.touched)
	}
}

func TestHandleWebhookEvent_SelfMessageIgnoredBeforeLookup(t *testing.T) {
	resolver := &fakeResolver{}
	s := newTestWebhookService(resolver, &fakeIngest{})

	event := upsertEvent("instance-acme", "5511988888888@s.whatsapp.net", "Agent", true)

	result, err := s.HandleWebhookEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}

	if result.Action != domain.ActionIgnoredSelf {
		t.Errorf("action = %q, want %q", result.Action, domain.ActionIgnoredSelf)
	}
	if resolver.calls != 0 {
		t.Errorf("self message must not hit the resolver, got %d calls", resolver.calls)
	}
}

func TestHandleWebhookEvent_UnknownInstanceDropsMessage(t *testing.T) {
	resolver := &fakeResolver{}
	ingest := &fakeIngest{}
	s := newTestWebhookService(resolver, ingest)

	event := upsertEvent("instance-nobody", "5511988888888@s.whatsapp.net", "Maria", false)

	result, err := s.HandleWebhookEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}

	if result.Action != domain.ActionTenantNotFound {
		t.Errorf("action = %q, want %q", result.Action, domain.ActionTenantNotFound)
	}
	if len(ingest.upserts) != 0 || len(ingest.created) != 0 {
		t.Error("unknown instance must not write anything")
	}
}

func TestHandleWebhookEvent_StatusUpdateIsLogOnly(t *testing.T) {
	resolver := &fakeResolver{resolutions: map[string]*instancecache.Resolution{
		"instance-acme": {TenantID: 1, TenantName: "acme"},
	}}
	ingest := &fakeIngest{}
	s := newTestWebhookService(resolver, ingest)

	payload, _ := json.Marshal(map[string]any{"keyId": "ABCDEF123", "status": "READ"})
	event := &domain.WebhookEvent{
		Event:    domain.EventMessagesUpdate,
		Instance: "instance-acme",
		Data:     payload,
	}

	result, err := s.HandleWebhookEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}

	if result.Action != domain.ActionStatusLogged {
		t.Errorf("action = %q, want %q", result.Action, domain.ActionStatusLogged)
	}
	if len(ingest.upserts) != 0 || len(ingest.created) != 0 || len(ingest.touched) != 0 {
		t.Error("status update must not touch CRM entities")
	}
}

func TestHandleWebhookEvent_ConnectionUpdateRecordsState(t *testing.T) {
	cache := &fakeStateCache{}
	s := newTestWebhookService(&fakeResolver{}, &fakeIngest{})
	s.redis = cache

	payload, _ := json.Marshal(map[string]any{"state": "close"})
	event := &domain.WebhookEvent{
		Event:    domain.EventConnectionUpdate,
		Instance: "instance-acme",
		Data:     payload,
	}

	result, err := s.HandleWebhookEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}

	if result.Action != domain.ActionConnectionLogged || result.State != "close" {
		t.Errorf("unexpected result: %+v", result)
	}
	if cache.states["instance-acme"] != "close" {
		t.Errorf("state not cached: %v", cache.states)
	}
}

func TestHandleWebhookEvent_UnknownEventIgnored(t *testing.T) {
	s := newTestWebhookService(&fakeResolver{}, &fakeIngest{})

	event := &domain.WebhookEvent{Event: "CHATS_SET", Instance: "instance-acme"}

	result, err := s.HandleWebhookEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("HandleWebhookEvent returned error: %v", err)
	}
	if result.Action != domain.ActionIgnored {
		t.Errorf("action = %q, want %q", result.Action, domain.ActionIgnored)
	}
}

func TestCanonicalPhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5511988888888@s.whatsapp.net", "+5511988888888"},
		{"5511988888888:12@s.whatsapp.net", "+5511988888888"},
		{"+5511988888888", "+5511988888888"},
		{"5511988888888", "+5511988888888"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := canonicalPhone(tc.in); got != tc.want {
			t.Errorf("canonicalPhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
