package instancecache

import (
	"context"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/internal/domain"
	"github.com/zapleads/crm-service/pkg/crypto"
	"github.com/zapleads/crm-service/pkg/logger"
)

// ErrTenantNotFound means no account matched the instance after the hash
// lookup and the self-heal scan. Inbound events for unknown instances are
// dropped by the caller.
var ErrTenantNotFound = errors.New("no tenant matches instance")

type tenantStore interface {
	GetByInstanceHash(ctx context.Context, hash string) (*domain.TenantAccount, error)
	GetUnhashed(ctx context.Context) ([]domain.TenantAccount, error)
	SetInstanceHash(ctx context.Context, id int64, hash string) error
}

type connectionRouter interface {
	Get(dsn string) (*sqlx.DB, error)
}

type decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Resolution is the routing result for one inbound instance identifier.
type Resolution struct {
	TenantID   int64
	TenantName string
	AgentPhone string
	DB         *sqlx.DB
}

type cachedTenant struct {
	tenantID     int64
	tenantName   string
	agentPhone   string
	encryptedDSN string
}

// Cache maps a gateway instance identifier to its tenant. Lookups prefer an
// in-memory map, then the precomputed hash index, then a bounded plaintext
// scan over accounts that predate hashing; the scan backfills the hash so the
// slow path runs at most once per legacy account. One Cache per process,
// shared by the webhook handler and injected explicitly.
type Cache struct {
	store  tenantStore
	router connectionRouter
	cipher decrypter

	mu      sync.Mutex
	entries map[string]cachedTenant

	// scan invocations, exposed for tests and diagnostics
	scanCount int
}

func New(store tenantStore, router connectionRouter, cipher decrypter) *Cache {
	return &Cache{
		store:   store,
		router:  router,
		cipher:  cipher,
		entries: make(map[string]cachedTenant),
	}
}

// Resolve maps an instance identifier to a tenant and its pooled database
// handle.
func (c *Cache) Resolve(ctx context.Context, instanceID string) (*Resolution, error) {
	c.mu.Lock()
	entry, hit := c.entries[instanceID]
	c.mu.Unlock()

	if hit {
		resolution, err := c.open(entry)
		if err == nil {
			return resolution, nil
		}

		// A cached DSN that no longer decrypts is cache corruption, not a
		// missing tenant. Evict and fall through to a fresh lookup.
		logger.Warnf("Evicting stale instance cache entry for tenant %s: %v", entry.tenantName, err)
		c.mu.Lock()
		delete(c.entries, instanceID)
		c.mu.Unlock()
	}

	tenant, err := c.lookupByHash(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if tenant == nil {
		tenant, err = c.scanUnhashed(ctx, instanceID)
		if err != nil {
			return nil, err
		}
	}

	if tenant == nil {
		return nil, ErrTenantNotFound
	}

	entry = cachedTenant{
		tenantID:     tenant.ID,
		tenantName:   tenant.Name,
		agentPhone:   tenant.InstancePhone,
		encryptedDSN: tenant.DatabaseURL,
	}

	resolution, err := c.open(entry)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[instanceID] = entry
	c.mu.Unlock()

	return resolution, nil
}

func (c *Cache) open(entry cachedTenant) (*Resolution, error) {
	dsn, err := c.cipher.Decrypt(entry.encryptedDSN)
	if err != nil {
		return nil, err
	}

	db, err := c.router.Get(dsn)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		TenantID:   entry.tenantID,
		TenantName: entry.tenantName,
		AgentPhone: entry.agentPhone,
		DB:         db,
	}, nil
}

func (c *Cache) lookupByHash(ctx context.Context, instanceID string) (*domain.TenantAccount, error) {
	return c.store.GetByInstanceHash(ctx, crypto.HashString(instanceID))
}

// scanUnhashed is the self-heal path for accounts provisioned before hashing
// existed: decrypt each unhashed account's instance name, compare plaintext,
// and persist the hash on a match so the next lookup takes the fast path.
func (c *Cache) scanUnhashed(ctx context.Context, instanceID string) (*domain.TenantAccount, error) {
	c.mu.Lock()
	c.scanCount++
	c.mu.Unlock()

	accounts, err := c.store.GetUnhashed(ctx)
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		account := &accounts[i]

		name, err := c.cipher.Decrypt(account.InstanceName)
		if err != nil {
			logger.Warnf("Skipping account %d during instance scan: %v", account.ID, err)
			continue
		}

		if name != instanceID {
			continue
		}

		hash := crypto.HashString(instanceID)
		if err := c.store.SetInstanceHash(ctx, account.ID, hash); err != nil {
			// Routing still works this round; the backfill retries next time.
			logger.Warnf("Failed to backfill instance hash for account %d: %v", account.ID, err)
		} else {
			logger.Infof("Backfilled instance hash for tenant %s", account.Name)
		}

		return account, nil
	}

	return nil, nil
}

// ScanCount reports how many times the self-heal scan ran.
func (c *Cache) ScanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanCount
}

// Evict drops one instance from the in-memory map. Used when an account's
// gateway configuration changes.
func (c *Cache) Evict(instanceID string) {
	c.mu.Lock()
	delete(c.entries, instanceID)
	c.mu.Unlock()
}
