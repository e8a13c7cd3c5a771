package tenantdb

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/zapleads/crm-service/pkg/database"
	"github.com/zapleads/crm-service/pkg/logger"
)

// Router hands out pooled connections to tenant databases, keyed by
// connection string. The cache is LRU-bounded so a deployment with hundreds
// of tenants keeps at most capacity live pools; evicting an entry closes its
// pool in the background. Shared by the worker and the webhook path, so all
// access is mutex-guarded.
type Router struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = least recently used

	dial func(dsn string) (*sqlx.DB, error)
}

type cacheEntry struct {
	dsn string
	db  *sqlx.DB
}

func NewRouter(capacity int) *Router {
	if capacity <= 0 {
		capacity = 10
	}
	return &Router{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		dial:     database.Connect,
	}
}

// Get returns the pooled handle for a connection string, creating it on a
// miss. On a miss at capacity the least recently used pool is evicted first.
// The cache is left untouched when the new connection cannot be established.
func (r *Router) Get(dsn string) (*sqlx.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.entries[dsn]; ok {
		r.order.MoveToBack(elem)
		return elem.Value.(*cacheEntry).db, nil
	}

	if r.order.Len() >= r.capacity {
		r.evictOldest()
	}

	db, err := r.dial(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tenant database: %w", err)
	}

	elem := r.order.PushBack(&cacheEntry{dsn: dsn, db: db})
	r.entries[dsn] = elem

	logger.Debugf("Tenant pool cache: opened connection (%d/%d cached)", r.order.Len(), r.capacity)

	return db, nil
}

// evictOldest removes the LRU entry and closes its pool off the lock. A close
// failure must never block provisioning a new connection, so it is only
// logged. Caller holds the mutex.
func (r *Router) evictOldest() {
	elem := r.order.Front()
	if elem == nil {
		return
	}

	entry := elem.Value.(*cacheEntry)
	r.order.Remove(elem)
	delete(r.entries, entry.dsn)

	go func(db *sqlx.DB) {
		if err := db.Close(); err != nil {
			logger.Warnf("Failed to close evicted tenant pool: %v", err)
		}
	}(entry.db)

	logger.Debugf("Tenant pool cache: evicted least recently used connection")
}

// Len reports how many pools are currently cached.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Close shuts down every cached pool. Called once at process shutdown.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for elem := r.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*cacheEntry)
		if err := entry.db.Close(); err != nil {
			logger.Warnf("Failed to close tenant pool: %v", err)
		}
	}

	r.entries = make(map[string]*list.Element)
	r.order.Init()
}
