package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// DefaultQueryTimeout bounds every backend call whose context has no deadline.
const DefaultQueryTimeout = 5 * time.Second

// Store persists purchase attempts and the entitlements they grant.
//
// Entitlements are never deleted because they expire; an expired grant is
// kept as proof of a past purchase and simply confers no access.
type Store interface {
	// SaveTransaction inserts or updates a record by id. Changing the status
	// of a settled transaction returns ErrSettled.
	SaveTransaction(ctx context.Context, rec TransactionRecord) error
	GetTransaction(ctx context.Context, id string) (TransactionRecord, error)
	// ListUserTransactions returns a user's records, newest first.
	ListUserTransactions(ctx context.Context, userID string) ([]TransactionRecord, error)

	// SaveEntitlement upserts on (user, content, kind), keeping the later expiry.
	SaveEntitlement(ctx context.Context, ent access.Entitlement) error
	ListEntitlements(ctx context.Context, userID string) ([]access.Entitlement, error)
	// ReplaceEntitlements swaps a user's grants for an authoritative snapshot.
	ReplaceEntitlements(ctx context.Context, userID string, ents []access.Entitlement) error

	// ArchiveSettledTransactions removes settled records last updated before
	// olderThan and returns how many were removed.
	ArchiveSettledTransactions(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

// NewStore creates a Store for the configured backend.
func NewStore(cfg config.StorageConfig, m *metrics.Metrics) (Store, error) {
	return NewStoreWithDB(cfg, m, nil)
}

// NewStoreWithDB creates a Store, reusing sharedDB for the postgres backend when non-nil.
func NewStoreWithDB(cfg config.StorageConfig, m *metrics.Metrics, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		// Memory backend forgets every purchase on restart; development only.
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		var store *PostgresStore
		var err error
		if sharedDB != nil {
			store, err = NewPostgresStoreWithDB(sharedDB)
		} else {
			store, err = NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
		}
		if err != nil {
			return nil, err
		}
		if err := store.WithTableNames(cfg.SchemaMapping.Transactions.TableName, cfg.SchemaMapping.Entitlements.TableName); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store.WithMetrics(m), nil
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		database := cfg.MongoDBDatabase
		if database == "" {
			database = "cinemarwa"
		}
		store, err := NewMongoDBStore(cfg.MongoDBURL, database, MongoCollections{
			Transactions: cfg.SchemaMapping.Transactions.TableName,
			Entitlements: cfg.SchemaMapping.Entitlements.TableName,
		})
		if err != nil {
			return nil, err
		}
		return store.WithMetrics(m), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis backend requires redis_url")
		}
		store, err := NewRedisStore(cfg.RedisURL, cfg.RedisGrace.Duration)
		if err != nil {
			return nil, err
		}
		return store.WithMetrics(m), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// MemoryStore is an in-memory Store for tests and single-instance development.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]TransactionRecord          // id -> record
	byUser       map[string]map[string]struct{}        // userID -> transaction ids
	entitlements map[entitlementKey]access.Entitlement // (user, content, kind) -> grant
	now          func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]TransactionRecord),
		byUser:       make(map[string]map[string]struct{}),
		entitlements: make(map[entitlementKey]access.Entitlement),
		now:          time.Now,
	}
}

// SaveTransaction implements Store.
func (m *MemoryStore) SaveTransaction(_ context.Context, rec TransactionRecord) error {
	if err := validateTransaction(&rec, m.now()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.transactions[rec.ID]; ok {
		if err := checkTransition(existing, rec); err != nil {
			return err
		}
		rec.CreatedAt = existing.CreatedAt
		if existing.SettledAt != nil {
			rec.SettledAt = existing.SettledAt
		}
	}
	m.transactions[rec.ID] = rec
	ids, ok := m.byUser[rec.UserID]
	if !ok {
		ids = make(map[string]struct{})
		m.byUser[rec.UserID] = ids
	}
	ids[rec.ID] = struct{}{}
	return nil
}

// GetTransaction implements Store.
func (m *MemoryStore) GetTransaction(_ context.Context, id string) (TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.transactions[id]
	if !ok {
		return TransactionRecord{}, ErrNotFound
	}
	return rec, nil
}

// ListUserTransactions implements Store.
func (m *MemoryStore) ListUserTransactions(_ context.Context, userID string) ([]TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TransactionRecord, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		out = append(out, m.transactions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SaveEntitlement implements Store.
func (m *MemoryStore) SaveEntitlement(_ context.Context, ent access.Entitlement) error {
	if err := validateEntitlement(&ent, m.now()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(ent)
	if existing, ok := m.entitlements[key]; ok {
		ent = mergeEntitlement(existing, ent)
	}
	m.entitlements[key] = ent
	return nil
}

// ListEntitlements implements Store. Expired grants are included.
func (m *MemoryStore) ListEntitlements(_ context.Context, userID string) ([]access.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []access.Entitlement
	for key, ent := range m.entitlements {
		if key.userID == userID {
			out = append(out, ent)
		}
	}
	sortEntitlements(out)
	return out, nil
}

// ReplaceEntitlements implements Store.
func (m *MemoryStore) ReplaceEntitlements(_ context.Context, userID string, ents []access.Entitlement) error {
	now := m.now()
	for i := range ents {
		ents[i].UserID = userID
		if err := validateEntitlement(&ents[i], now); err != nil {
			return fmt.Errorf("entitlement %d: %w", i, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entitlements {
		if key.userID == userID {
			delete(m.entitlements, key)
		}
	}
	for _, ent := range ents {
		key := keyOf(ent)
		if existing, ok := m.entitlements[key]; ok {
			ent = mergeEntitlement(existing, ent)
		}
		m.entitlements[key] = ent
	}
	return nil
}

// ArchiveSettledTransactions implements Store.
func (m *MemoryStore) ArchiveSettledTransactions(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for id, rec := range m.transactions {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(olderThan) {
			delete(m.transactions, id)
			if ids := m.byUser[rec.UserID]; ids != nil {
				delete(ids, id)
				if len(ids) == 0 {
					delete(m.byUser, rec.UserID)
				}
			}
			count++
		}
	}
	return count, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// sortEntitlements orders grants deterministically for callers and tests.
func sortEntitlements(ents []access.Entitlement) {
	sort.Slice(ents, func(i, j int) bool {
		if ents[i].ContentID != ents[j].ContentID {
			return ents[i].ContentID < ents[j].ContentID
		}
		return ents[i].Kind < ents[j].Kind
	})
}

// withQueryTimeout applies DefaultQueryTimeout unless the caller already set a deadline.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}
