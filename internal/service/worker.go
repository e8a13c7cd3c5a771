package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/environments"
	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/internal/repository"
	"github.com/zapleads/crm-service/pkg/evolution"
	"github.com/zapleads/crm-service/pkg/logger"
	"github.com/zapleads/crm-service/pkg/redis"
	"github.com/zapleads/crm-service/pkg/throttle"
)

// Small internal interfaces so the worker can be tested without a real
// database, gateway or cipher.

type tenantStore interface {
	GetConfigured(ctx context.Context) ([]domain.TenantAccount, error)
}

type connectionRouter interface {
	Get(dsn string) (*sqlx.DB, error)
}

type decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

type gatewayClient interface {
	GetInstanceStatus(ctx context.Context) (*evolution.InstanceStatus, error)
	SendMessage(ctx context.Context, phone, text string) (string, error)
}

type gatewayFactory func(instance, apiKey string) gatewayClient

type queueStore interface {
	GetDueBatch(ctx context.Context, limit int, now time.Time) ([]domain.CampaignMessage, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailure(ctx context.Context, id int64, status domain.MessageStatus, retryCount int, errText string) error
}

type crmStore interface {
	UpsertContact(ctx context.Context, phone, name string, manual bool) (*domain.Contact, error)
	AppendChatHistory(ctx context.Context, contactID int64, sessionID string, direction domain.ChatDirection, content string) error
}

type receiptCache interface {
	CacheSentReceipt(ctx context.Context, receipt domain.SentReceipt) error
}

// unknownAgent is the session-id fallback for accounts without a configured
// gateway phone number.
const unknownAgent = "unknown_agent"

// Worker drains every tenant's delivery queue: batch fetch, gateway health
// precondition, strictly sequential sends with human-cadence throttling, and
// retry/dead-letter bookkeeping.
type Worker struct {
	tenants tenantStore
	router  connectionRouter
	cipher  decrypter
	sleeper throttle.Sleeper
	redis   receiptCache
	config  environments.WorkerConfig

	gatewayFor   gatewayFactory
	newQueueRepo func(db *sqlx.DB) queueStore
	newCRMRepo   func(db *sqlx.DB) crmStore
}

func NewWorker(
	tenants tenantStore,
	router connectionRouter,
	cipher decrypter,
	sleeper throttle.Sleeper,
	redisClient *redis.Client,
	evolutionCfg environments.EvolutionConfig,
	config environments.WorkerConfig,
) *Worker {
	w := &Worker{
		tenants: tenants,
		router:  router,
		cipher:  cipher,
		sleeper: sleeper,
		config:  config,
		gatewayFor: func(instance, apiKey string) gatewayClient {
			return evolution.NewClient(evolutionCfg, instance, apiKey)
		},
		newQueueRepo: func(db *sqlx.DB) queueStore { return repository.NewQueueRepository(db) },
		newCRMRepo:   func(db *sqlx.DB) crmStore { return repository.NewCRMRepository(db) },
	}

	// Keep the nil check in one place; redisClient may legitimately be absent.
	if redisClient != nil {
		w.redis = redisClient
	}

	return w
}

// DrainAllTenants runs one delivery pass across every fully provisioned
// tenant. A tenant's failure (decryption, connection, disconnected gateway)
// is recorded in its own result bucket and never aborts the others.
func (w *Worker) DrainAllTenants(ctx context.Context) (*domain.DrainSummary, error) {
	accounts, err := w.tenants.GetConfigured(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}

	summary := &domain.DrainSummary{
		Results: make(map[string]*domain.BatchResult, len(accounts)),
	}

	for i := range accounts {
		account := &accounts[i]
		if !account.HasWhatsApp() {
			continue
		}

		summary.Tenants++

		result, err := w.drainTenant(ctx, account)
		if err != nil {
			logger.Tenant(account.Name).Errorf("Drain failed: %v", err)
			summary.Results[account.Name] = &domain.BatchResult{Errors: []string{err.Error()}}
		} else {
			summary.Results[account.Name] = result
		}

		if ctx.Err() != nil {
			break
		}
	}

	return summary, nil
}

func (w *Worker) drainTenant(ctx context.Context, account *domain.TenantAccount) (*domain.BatchResult, error) {
	secrets, err := w.decryptSecrets(account)
	if err != nil {
		return nil, err
	}

	db, err := w.router.Get(secrets.DatabaseURL)
	if err != nil {
		return nil, err
	}

	return w.DrainQueue(ctx, account.Name, secrets, db)
}

func (w *Worker) decryptSecrets(account *domain.TenantAccount) (*domain.TenantSecrets, error) {
	dsn, err := w.cipher.Decrypt(account.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt database URL: %w", err)
	}

	instance, err := w.cipher.Decrypt(account.InstanceName)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt instance name: %w", err)
	}

	apiKey, err := w.cipher.Decrypt(account.InstanceAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt instance API key: %w", err)
	}

	return &domain.TenantSecrets{
		DatabaseURL:  dsn,
		InstanceName: instance,
		APIKey:       apiKey,
		AgentPhone:   account.InstancePhone,
	}, nil
}

// DrainQueue runs one batch for one tenant. The gateway connection check is a
// batch-level precondition: a disconnected instance aborts the whole batch
// without mutating any entry.
func (w *Worker) DrainQueue(ctx context.Context, tenantName string, secrets *domain.TenantSecrets, db *sqlx.DB) (*domain.BatchResult, error) {
	tlog := logger.Tenant(tenantName)
	queue := w.newQueueRepo(db)
	crm := w.newCRMRepo(db)

	batch, err := queue.GetDueBatch(ctx, w.config.BatchSize, time.Now())
	if err != nil {
		return nil, err
	}

	if len(batch) == 0 {
		return &domain.BatchResult{}, nil
	}

	gateway := w.gatewayFor(secrets.InstanceName, secrets.APIKey)

	status, err := gateway.GetInstanceStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check instance status: %w", err)
	}
	if !status.Connected {
		return nil, fmt.Errorf("Instance %s not connected", secrets.InstanceName)
	}

	tlog.Infof("Draining %d queued messages", len(batch))

	result := &domain.BatchResult{}

	// Strictly sequential: the gateway flags concurrent senders, so one
	// message at a time with a randomized pause after each attempt.
	for i := range batch {
		if ctx.Err() != nil {
			break
		}

		w.deliver(ctx, tlog, gateway, queue, crm, tenantName, secrets, &batch[i], result)

		if err := w.sleeper.Sleep(ctx); err != nil {
			break
		}
	}

	tlog.Infof("Batch done: %d processed, %d sent, %d failed, %d dead-lettered",
		result.Processed, result.Sent, result.Failed, result.DeadLettered)

	return result, nil
}

func (w *Worker) deliver(
	ctx context.Context,
	tlog *logger.TenantLogger,
	gateway gatewayClient,
	queue queueStore,
	crm crmStore,
	tenantName string,
	secrets *domain.TenantSecrets,
	entry *domain.CampaignMessage,
	result *domain.BatchResult,
) {
	result.Processed++

	if err := queue.MarkProcessing(ctx, entry.ID); err != nil {
		tlog.Errorf("Failed to mark message %d as processing: %v", entry.ID, err)
		result.Failed++
		result.Errors = append(result.Errors, err.Error())
		return
	}

	_, err := gateway.SendMessage(ctx, entry.LeadPhone, entry.Content)
	if err != nil {
		w.recordFailure(ctx, tlog, queue, entry, err, result)
		return
	}

	sentAt := time.Now()
	if err := queue.MarkSent(ctx, entry.ID, sentAt); err != nil {
		tlog.Errorf("Failed to mark message %d as sent: %v", entry.ID, err)
	}

	w.recordDelivery(ctx, tlog, crm, tenantName, secrets, entry, sentAt)

	result.Sent++
}

// recordFailure applies the retry policy: the incremented count decides
// between another FAILED round and the terminal DEAD_LETTER state.
func (w *Worker) recordFailure(
	ctx context.Context,
	tlog *logger.TenantLogger,
	queue queueStore,
	entry *domain.CampaignMessage,
	sendErr error,
	result *domain.BatchResult,
) {
	newCount := entry.RetryCount + 1

	status := domain.StatusFailed
	if newCount > domain.MaxRetries {
		status = domain.StatusDeadLetter
	}

	if err := queue.MarkFailure(ctx, entry.ID, status, newCount, sendErr.Error()); err != nil {
		tlog.Errorf("Failed to record failure for message %d: %v", entry.ID, err)
	}

	if status == domain.StatusDeadLetter {
		tlog.Warnf("Message %d dead-lettered after %d attempts: %v", entry.ID, newCount, sendErr)
		result.DeadLettered++
	} else {
		tlog.Warnf("Message %d failed (attempt %d/%d): %v", entry.ID, newCount, domain.MaxRetries+1, sendErr)
		result.Failed++
	}

	result.Errors = append(result.Errors, sendErr.Error())
}

// recordDelivery writes the audit trail after a successful send: contact
// upsert, outgoing chat-history entry, and the optional Redis receipt. None
// of these can undo the send, so failures here are logged only.
func (w *Worker) recordDelivery(
	ctx context.Context,
	tlog *logger.TenantLogger,
	crm crmStore,
	tenantName string,
	secrets *domain.TenantSecrets,
	entry *domain.CampaignMessage,
	sentAt time.Time,
) {
	contact, err := crm.UpsertContact(ctx, entry.LeadPhone, entry.LeadName, false)
	if err != nil {
		tlog.Errorf("Failed to upsert contact for %s: %v", entry.LeadPhone, err)
		return
	}

	agentPhone := secrets.AgentPhone
	if agentPhone == "" {
		agentPhone = unknownAgent
	}
	sessionID := entry.LeadPhone + "_" + agentPhone

	if err := crm.AppendChatHistory(ctx, contact.ID, sessionID, domain.DirectionOutgoing, entry.Content); err != nil {
		tlog.Errorf("Failed to append chat history for message %d: %v", entry.ID, err)
	}

	if w.redis != nil {
		receipt := domain.SentReceipt{
			Tenant:    tenantName,
			MessageID: entry.ID,
			Phone:     entry.LeadPhone,
			SentAt:    sentAt,
		}
		if err := w.redis.CacheSentReceipt(ctx, receipt); err != nil {
			tlog.Warnf("Failed to cache receipt for message %d: %v", entry.ID, err)
		}
	}
}
