package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/internal/instancecache"
	"github.com/zapleads/crm-service/internal/repository"
	"github.com/zapleads/crm-service/pkg/logger"
	"github.com/zapleads/crm-service/pkg/redis"
)

type instanceResolver interface {
	Resolve(ctx context.Context, instanceID string) (*instancecache.Resolution, error)
}

type ingestStore interface {
	UpsertContact(ctx context.Context, phone, name string, manual bool) (*domain.Contact, error)
	GetLeadByPhone(ctx context.Context, phone string) (*domain.Lead, error)
	CreateLead(ctx context.Context, name, phone, interest string, tag domain.LeadTag) (*domain.Lead, error)
	TouchLead(ctx context.Context, id int64) error
}

type stateCache interface {
	SetConnectionState(ctx context.Context, instance, state string) error
}

// inboundInterest marks leads created from an unsolicited inbound message,
// before anyone has qualified them.
const inboundInterest = "Contato via WhatsApp"

// WebhookService normalizes Evolution API events into CRM entities. Inbound
// routing goes through the instance lookup cache; events for instances no
// account owns are dropped, which is an accepted loss since the gateway does
// not redeliver.
type WebhookService struct {
	resolver instanceResolver
	redis    stateCache

	newIngestRepo func(db *sqlx.DB) ingestStore
}

func NewWebhookService(resolver instanceResolver, redisClient *redis.Client) *WebhookService {
	s := &WebhookService{
		resolver:      resolver,
		newIngestRepo: func(db *sqlx.DB) ingestStore { return repository.NewCRMRepository(db) },
	}

	if redisClient != nil {
		s.redis = redisClient
	}

	return s
}

// HandleWebhookEvent dispatches one gateway event. Unknown event types are
// acknowledged and ignored so gateway upgrades cannot break ingestion.
func (s *WebhookService) HandleWebhookEvent(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookResult, error) {
	switch event.Event {
	case domain.EventMessagesUpsert:
		return s.handleNewMessage(ctx, event)
	case domain.EventMessagesUpdate:
		return s.handleMessageStatus(ctx, event)
	case domain.EventConnectionUpdate:
		return s.handleConnectionState(ctx, event)
	default:
		logger.Debugf("Ignoring webhook event %q for instance %s", event.Event, event.Instance)
		return &domain.WebhookResult{Action: domain.ActionIgnored, Reason: "unknown_event"}, nil
	}
}

func (s *WebhookService) handleNewMessage(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookResult, error) {
	data, err := event.DecodeUpsert()
	if err != nil {
		return nil, err
	}

	// Outbound echoes come back through the same webhook; skip them.
	if data.Key.FromMe {
		return &domain.WebhookResult{Action: domain.ActionIgnoredSelf}, nil
	}

	resolution, err := s.resolver.Resolve(ctx, event.Instance)
	if err != nil {
		if errors.Is(err, instancecache.ErrTenantNotFound) {
			logger.Warnf("Dropping message for unknown instance %s", event.Instance)
			return &domain.WebhookResult{Action: domain.ActionTenantNotFound}, nil
		}
		return nil, err
	}

	phone := canonicalPhone(data.Key.RemoteJID)
	tlog := logger.Tenant(resolution.TenantName)

	crm := s.newIngestRepo(resolution.DB)

	name := data.PushName
	if name == "" {
		name = phone
	}

	if _, err := crm.UpsertContact(ctx, phone, name, false); err != nil {
		return nil, err
	}

	lead, err := crm.GetLeadByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	if lead == nil {
		if _, err := crm.CreateLead(ctx, name, phone, inboundInterest, domain.TagNew); err != nil {
			return nil, err
		}
		tlog.Infof("Created lead for %s from inbound message", phone)
	} else {
		// Re-contact: bump recency only, the pipeline tag stays where the
		// team put it.
		if err := crm.TouchLead(ctx, lead.ID); err != nil {
			return nil, err
		}
	}

	// The inbound message text is intentionally not written to chat_history
	// here: an external automation records the conversation transcript.

	return &domain.WebhookResult{Action: domain.ActionMessageSaved, Phone: phone}, nil
}

func (s *WebhookService) handleMessageStatus(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookResult, error) {
	data, err := event.DecodeUpdate()
	if err != nil {
		return nil, err
	}

	resolution, err := s.resolver.Resolve(ctx, event.Instance)
	if err != nil {
		if errors.Is(err, instancecache.ErrTenantNotFound) {
			return &domain.WebhookResult{Action: domain.ActionTenantNotFound}, nil
		}
		return nil, err
	}

	// Delivery receipts are observability only; no entity changes.
	logger.Tenant(resolution.TenantName).Infof("Message %s status: %s", data.KeyID, data.Status)

	return &domain.WebhookResult{Action: domain.ActionStatusLogged}, nil
}

func (s *WebhookService) handleConnectionState(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookResult, error) {
	data, err := event.DecodeConnection()
	if err != nil {
		return nil, err
	}

	// A closed connection is surfaced to operators, never auto-remediated
	// here.
	logger.Warnf("Instance %s connection state: %s", event.Instance, data.State)

	if s.redis != nil {
		if err := s.redis.SetConnectionState(ctx, event.Instance, data.State); err != nil {
			logger.Warnf("Failed to record connection state for %s: %v", event.Instance, err)
		}
	}

	return &domain.WebhookResult{Action: domain.ActionConnectionLogged, State: data.State}, nil
}

// canonicalPhone turns a WhatsApp JID like "5511988888888@s.whatsapp.net"
// (optionally with a device suffix "5511988888888:12@...") into the CRM's
// +<countrycode><number> form.
func canonicalPhone(remoteJID string) string {
	number, _, _ := strings.Cut(remoteJID, "@")
	number, _, _ = strings.Cut(number, ":")

	if number == "" {
		return ""
	}
	if strings.HasPrefix(number, "+") {
		return number
	}
	return "+" + number
}
