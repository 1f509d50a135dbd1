// Package entitlements answers whether a viewer may consume a title right now.
//
// Access is derived, in priority order, from an active Entitlement, then from
// a succeeded transaction whose entitlement has not been issued yet. Guests
// never receive paid access through this package.
package entitlements

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/cacheutil"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/catalog"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/gateway"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrGuest is returned when a paid grant is requested for an anonymous viewer.
	ErrGuest = errors.New("entitlements: guest viewers cannot hold entitlements")
	// ErrNoSource is returned by Refresh when no Transaction Store is configured.
	ErrNoSource = errors.New("entitlements: no entitlement source configured")
)

// SnapshotSource returns the authoritative entitlements for a user.
// *gateway.Client satisfies it.
type SnapshotSource interface {
	GetUserEntitlements(ctx context.Context, userID string) (gateway.EntitlementSnapshot, error)
}

// Config holds the window lengths and cache behaviour.
type Config struct {
	WatchWindow time.Duration
	// PlanPeriods maps a subscription plan to the length of the grant it buys.
	PlanPeriods map[string]time.Duration
	// CacheTTL bounds how long a user's entitlements are served from memory.
	CacheTTL time.Duration
	// MaxStaleness triggers a Refresh before a check when the last snapshot is
	// older. Zero disables it.
	MaxStaleness time.Duration
}

// DefaultConfig returns the storefront's standard windows.
func DefaultConfig() Config {
	return Config{
		WatchWindow: 48 * time.Hour,
		PlanPeriods: map[string]time.Duration{"premium": 30 * 24 * time.Hour},
		CacheTTL:    30 * time.Second,
	}
}

// ConfigFromApp builds a Config from the access and pricing sections.
func ConfigFromApp(acc config.AccessConfig, pricing config.PricingConfig) Config {
	cfg := DefaultConfig()
	if acc.WatchWindow.Duration > 0 {
		cfg.WatchWindow = acc.WatchWindow.Duration
	}
	cfg.MaxStaleness = acc.RefreshInterval.Duration
	if len(pricing.Plans) > 0 {
		cfg.PlanPeriods = make(map[string]time.Duration, len(pricing.Plans))
		for name, plan := range pricing.Plans {
			cfg.PlanPeriods[name] = plan.Period.Duration
		}
	}
	return cfg
}

// Options carries optional collaborators.
type Options struct {
	Source  SnapshotSource
	Catalog catalog.Repository
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	// Now overrides the local clock in tests.
	Now func() time.Time
}

// Source says where a grant was found.
type Source string

const (
	SourceEntitlement Source = "entitlement"
	SourceTransaction Source = "transaction"
	SourceFree        Source = "free"
)

// Grant is an access decision for one (user, content) pair.
type Grant struct {
	Kind          access.Kind
	ExpiresAt     *time.Time
	Source        Source
	TransactionID string
}

// Resolver computes access rights. It is the only writer of cached entitlements.
type Resolver struct {
	store   storage.Store
	source  SnapshotSource
	catalog catalog.Repository
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	cacheMu sync.RWMutex
	cache   map[string]cacheutil.CachedValue[[]access.Entitlement]

	group singleflight.Group

	mu          sync.Mutex
	offset      time.Duration // server clock minus local clock
	lastRefresh map[string]time.Time
	listeners   map[int]func(Change)
	nextID      int
}

// NewResolver wires a Resolver over store.
func NewResolver(store storage.Store, cfg Config, opts Options) *Resolver {
	if cfg.WatchWindow <= 0 {
		cfg.WatchWindow = 48 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		store:       store,
		source:      opts.Source,
		catalog:     opts.Catalog,
		cfg:         cfg,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         now,
		cache:       make(map[string]cacheutil.CachedValue[[]access.Entitlement]),
		lastRefresh: make(map[string]time.Time),
		listeners:   make(map[int]func(Change)),
	}
}

// ServerNow is the local clock corrected by the offset learned from the
// Transaction Store. Access decisions use it.
func (r *Resolver) ServerNow() time.Time {
	r.mu.Lock()
	offset := r.offset
	r.mu.Unlock()
	return r.now().Add(offset)
}

// streamKinds are the grants that allow playing a full title.
var streamKinds = []access.Kind{access.Watch, access.Download, access.SeriesAccess}

// HasAccess reports whether viewer may stream contentID. Lookup failures are
// logged and treated as no access.
func (r *Resolver) HasAccess(ctx context.Context, viewer access.Viewer, contentID string) bool {
	_, ok, err := r.Lookup(ctx, viewer, contentID, streamKinds...)
	if err != nil {
		r.logger.Warn().Err(err).Str("content_id", contentID).Msg("entitlements.lookup_failed")
		return false
	}
	return ok
}

// AccessExpiry returns when viewer's access to contentID ends. ok is false
// without access; a nil time with ok true means the access is permanent.
func (r *Resolver) AccessExpiry(ctx context.Context, viewer access.Viewer, contentID string) (expiresAt *time.Time, ok bool) {
	grant, ok, err := r.Lookup(ctx, viewer, contentID, streamKinds...)
	if err != nil || !ok {
		return nil, false
	}
	return grant.ExpiresAt, true
}

// RequiresPurchase reports whether an authenticated viewer must buy before
// streaming. Guests get ErrGuest: they are routed to sign-in first.
func (r *Resolver) RequiresPurchase(ctx context.Context, viewer access.Viewer, contentID string) (bool, error) {
	if viewer.IsGuest() {
		return false, ErrGuest
	}
	_, ok, err := r.Lookup(ctx, viewer, contentID, streamKinds...)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// ShowWatchAffordance reports whether a "watch" control should be shown.
// It requires access by the server clock and also hides the control once
// the local clock says the window has closed.
func (r *Resolver) ShowWatchAffordance(ctx context.Context, viewer access.Viewer, contentID string) bool {
	grant, ok, err := r.Lookup(ctx, viewer, contentID, streamKinds...)
	if err != nil || !ok {
		return false
	}
	return grant.ExpiresAt == nil || r.now().Before(*grant.ExpiresAt)
}

// Lookup finds the most generous active grant of one of kinds (any kind when
// empty) for viewer on contentID.
func (r *Resolver) Lookup(ctx context.Context, viewer access.Viewer, contentID string, kinds ...access.Kind) (Grant, bool, error) {
	if viewer.IsGuest() {
		return Grant{}, false, nil
	}
	userID := viewer.UserID
	r.refreshIfStale(ctx, userID)
	now := r.ServerNow()

	ents, err := r.entitlements(ctx, userID)
	if err != nil {
		return Grant{}, false, err
	}
	var best *Grant
	for _, ent := range ents {
		if ent.ContentID != contentID || !matches(ent.Kind, kinds) || !ent.ActiveAt(now) {
			continue
		}
		g := Grant{Kind: ent.Kind, ExpiresAt: ent.ExpiresAt, Source: SourceEntitlement, TransactionID: ent.TransactionID}
		best = better(best, g)
	}
	if best != nil {
		return *best, true, nil
	}

	// Entitlement issuance can lag settlement; a succeeded transaction counts.
	txs, err := r.store.ListUserTransactions(ctx, userID)
	if err != nil {
		return Grant{}, false, err
	}
	for _, tx := range txs {
		if tx.ContentID != contentID || !tx.Succeeded() || !matches(tx.Kind, kinds) {
			continue
		}
		ent, err := r.FromTransaction(tx)
		if err != nil {
			r.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("entitlements.derive_failed")
			continue
		}
		if !ent.ActiveAt(now) {
			continue
		}
		g := Grant{Kind: ent.Kind, ExpiresAt: ent.ExpiresAt, Source: SourceTransaction, TransactionID: tx.ID}
		best = better(best, g)
	}
	if best != nil {
		return *best, true, nil
	}
	return Grant{}, false, nil
}

// entitlements serves a user's grants from the read-through cache.
func (r *Resolver) entitlements(ctx context.Context, userID string) ([]access.Entitlement, error) {
	if r.cfg.CacheTTL <= 0 {
		return r.store.ListEntitlements(ctx, userID)
	}
	return cacheutil.ReadThrough(&r.cacheMu,
		func(now time.Time) ([]access.Entitlement, bool) {
			cached, ok := r.cache[userID]
			if !ok || now.Sub(cached.FetchedAt) >= r.cfg.CacheTTL {
				return nil, false
			}
			return cached.Value, true
		},
		func(now time.Time) ([]access.Entitlement, error) {
			ents, err := r.store.ListEntitlements(ctx, userID)
			if err != nil {
				return nil, err
			}
			r.cache[userID] = cacheutil.CachedValue[[]access.Entitlement]{Value: ents, FetchedAt: now}
			return ents, nil
		},
	)
}

func (r *Resolver) invalidate(userID string) {
	r.cacheMu.Lock()
	delete(r.cache, userID)
	r.cacheMu.Unlock()
}

func matches(kind access.Kind, kinds []access.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// better keeps the grant that lasts longer; permanent beats everything.
func better(cur *Grant, g Grant) *Grant {
	if cur == nil {
		return &g
	}
	if cur.ExpiresAt == nil {
		return cur
	}
	if g.ExpiresAt == nil || g.ExpiresAt.After(*cur.ExpiresAt) {
		return &g
	}
	return cur
}
