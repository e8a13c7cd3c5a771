package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/environments"
	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/pkg/crypto"
	"github.com/zapleads/crm-service/pkg/database"
	"github.com/zapleads/crm-service/pkg/evolution"
	"github.com/zapleads/crm-service/pkg/logger"
	"github.com/zapleads/crm-service/pkg/redis"
)

type tenantAdminStore interface {
	GetByID(ctx context.Context, id int64) (*domain.TenantAccount, error)
	Create(ctx context.Context, t *domain.TenantAccount) (int64, error)
}

type secretsCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type instanceGateway interface {
	GetInstanceStatus(ctx context.Context) (*evolution.InstanceStatus, error)
	GenerateQRCode(ctx context.Context) (string, error)
	Disconnect(ctx context.Context) error
	FetchMessages(ctx context.Context, phone string, limit int) ([]evolution.FetchedMessage, error)
}

type receiptReader interface {
	GetRecentReceipts(ctx context.Context, tenant string) ([]domain.SentReceipt, error)
	GetConnectionState(ctx context.Context, instance string) (string, error)
}

// InstanceHealth combines the gateway's live connection state with the last
// state the webhook reported, which can lag or disagree when the gateway is
// flapping.
type InstanceHealth struct {
	Instance      string `json:"instance"`
	Connected     bool   `json:"connected"`
	State         string `json:"state"`
	ReportedState string `json:"reportedState,omitempty"`
}

// TenantService is the provisioning and instance-administration surface:
// creating accounts with encrypted secrets, pairing and logging out WhatsApp
// sessions, and read-only views over receipts and transcripts.
type TenantService struct {
	tenants tenantAdminStore
	router  connectionRouter
	cipher  secretsCipher
	redis   receiptReader

	gatewayFor func(instance, apiKey string) instanceGateway
	migrate    func(db *sqlx.DB) error
}

func NewTenantService(
	tenants tenantAdminStore,
	router connectionRouter,
	cipher secretsCipher,
	redisClient *redis.Client,
	evolutionCfg environments.EvolutionConfig,
) *TenantService {
	s := &TenantService{
		tenants: tenants,
		router:  router,
		cipher:  cipher,
		gatewayFor: func(instance, apiKey string) instanceGateway {
			return evolution.NewClient(evolutionCfg, instance, apiKey)
		},
		migrate: database.RunTenantMigrations,
	}

	if redisClient != nil {
		s.redis = redisClient
	}

	return s
}

// ProvisionTenant creates an account with its secrets encrypted at rest and
// prepares the tenant database schema. The instance hash is written up front
// so lookups never need the self-heal scan for new accounts.
func (s *TenantService) ProvisionTenant(
	ctx context.Context,
	name, databaseURL, instanceName, apiKey, agentPhone string,
) (*domain.TenantAccount, error) {
	encryptedDSN, err := s.cipher.Encrypt(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt database URL: %w", err)
	}

	encryptedInstance, err := s.cipher.Encrypt(instanceName)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt instance name: %w", err)
	}

	encryptedAPIKey, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt instance API key: %w", err)
	}

	account := &domain.TenantAccount{
		Name:           name,
		DatabaseURL:    encryptedDSN,
		InstanceName:   encryptedInstance,
		InstanceAPIKey: encryptedAPIKey,
		InstancePhone:  agentPhone,
	}

	if instanceName != "" {
		hash := crypto.HashString(instanceName)
		account.InstanceHash = &hash
	}

	id, err := s.tenants.Create(ctx, account)
	if err != nil {
		return nil, err
	}
	account.ID = id

	db, err := s.router.Get(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("tenant %s created but database unreachable: %w", name, err)
	}

	if err := s.migrate(db); err != nil {
		return nil, fmt.Errorf("tenant %s created but schema setup failed: %w", name, err)
	}

	logger.Infof("Provisioned tenant %s (account %d)", name, id)

	return account, nil
}

func (s *TenantService) secretsFor(ctx context.Context, tenantID int64) (*domain.TenantSecrets, error) {
	account, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUnknownTenant
	}

	instance, err := s.cipher.Decrypt(account.InstanceName)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt instance name: %w", err)
	}
	if instance == "" {
		return nil, ErrUnknownTenant
	}

	apiKey, err := s.cipher.Decrypt(account.InstanceAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt instance API key: %w", err)
	}

	return &domain.TenantSecrets{
		InstanceName: instance,
		APIKey:       apiKey,
		AgentPhone:   account.InstancePhone,
	}, nil
}

// InstanceHealth asks the gateway for the live session state and, when Redis
// is available, attaches the last state a webhook reported.
func (s *TenantService) InstanceHealth(ctx context.Context, tenantID int64) (*InstanceHealth, error) {
	secrets, err := s.secretsFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	status, err := s.gatewayFor(secrets.InstanceName, secrets.APIKey).GetInstanceStatus(ctx)
	if err != nil {
		return nil, err
	}

	health := &InstanceHealth{
		Instance:  secrets.InstanceName,
		Connected: status.Connected,
		State:     status.State,
	}

	if s.redis != nil {
		reported, err := s.redis.GetConnectionState(ctx, secrets.InstanceName)
		if err != nil {
			logger.Warnf("Failed to read reported connection state for %s: %v", secrets.InstanceName, err)
		} else {
			health.ReportedState = reported
		}
	}

	return health, nil
}

// ConnectInstance starts pairing and returns the QR code payload to scan.
func (s *TenantService) ConnectInstance(ctx context.Context, tenantID int64) (string, error) {
	secrets, err := s.secretsFor(ctx, tenantID)
	if err != nil {
		return "", err
	}

	return s.gatewayFor(secrets.InstanceName, secrets.APIKey).GenerateQRCode(ctx)
}

// LogoutInstance closes the tenant's WhatsApp session on the gateway.
func (s *TenantService) LogoutInstance(ctx context.Context, tenantID int64) error {
	secrets, err := s.secretsFor(ctx, tenantID)
	if err != nil {
		return err
	}

	return s.gatewayFor(secrets.InstanceName, secrets.APIKey).Disconnect(ctx)
}

// RecentReceipts lists the delivery receipts cached for the tenant over the
// receipt TTL window. Returns empty when Redis is disabled.
func (s *TenantService) RecentReceipts(ctx context.Context, tenantID int64) ([]domain.SentReceipt, error) {
	account, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUnknownTenant
	}

	if s.redis == nil {
		return []domain.SentReceipt{}, nil
	}

	return s.redis.GetRecentReceipts(ctx, account.Name)
}

// ChatPreview pulls the latest gateway-side transcript with one phone number.
func (s *TenantService) ChatPreview(ctx context.Context, tenantID int64, phone string, limit int) ([]evolution.FetchedMessage, error) {
	secrets, err := s.secretsFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return s.gatewayFor(secrets.InstanceName, secrets.APIKey).FetchMessages(ctx, phone, limit)
}
