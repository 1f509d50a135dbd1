package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/cacheutil"
)

// ChangeReason says why a user's entitlements changed.
type ChangeReason string

const (
	ChangeGrant   ChangeReason = "grant"
	ChangeRefresh ChangeReason = "refresh"
)

// Change is delivered to OnChange listeners. ContentID and Kind are empty for
// a refresh, which may touch every title.
type Change struct {
	UserID    string
	ContentID string
	Kind      access.Kind
	Reason    ChangeReason
}

// OnChange registers fn for every grant and refresh. The returned func
// unregisters it. Listeners run synchronously and must not block.
func (r *Resolver) OnChange(fn func(Change)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Resolver) notify(c Change) {
	r.mu.Lock()
	fns := make([]func(Change), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Refresh replaces userID's cached entitlements with the Transaction Store's
// snapshot. Concurrent refreshes for the same user share one request.
func (r *Resolver) Refresh(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrGuest
	}
	if r.source == nil {
		return ErrNoSource
	}

	_, err, _ := r.group.Do(userID, func() (interface{}, error) {
		return nil, r.refresh(ctx, userID)
	})
	if err != nil {
		r.metrics.ObserveRefresh("error")
		return err
	}
	r.metrics.ObserveRefresh("ok")
	return nil
}

func (r *Resolver) refresh(ctx context.Context, userID string) error {
	sent := r.now()
	snapshot, err := r.source.GetUserEntitlements(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch entitlements: %w", err)
	}
	received := r.now()

	if !snapshot.ServerTime.IsZero() {
		// Assume the server stamped the response halfway through the round trip.
		local := sent.Add(received.Sub(sent) / 2)
		r.mu.Lock()
		r.offset = snapshot.ServerTime.Sub(local)
		r.mu.Unlock()
	}

	ents := make([]access.Entitlement, 0, len(snapshot.Entitlements))
	for _, ent := range snapshot.Entitlements {
		ent.UserID = userID
		ents = append(ents, ent)
	}

	err = cacheutil.WriteThrough(func() { r.invalidate(userID) }, func() error {
		return r.store.ReplaceEntitlements(ctx, userID, ents)
	})
	if err != nil {
		return fmt.Errorf("replace entitlements: %w", err)
	}

	r.mu.Lock()
	r.lastRefresh[userID] = received
	r.mu.Unlock()

	r.logger.Debug().
		Str("user_id", userID).
		Int("count", len(ents)).
		Dur("clock_offset", r.clockOffset()).
		Msg("entitlements.refreshed")

	r.notify(Change{UserID: userID, Reason: ChangeRefresh})
	return nil
}

func (r *Resolver) clockOffset() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// refreshIfStale refreshes best-effort when MaxStaleness is set.
func (r *Resolver) refreshIfStale(ctx context.Context, userID string) {
	if r.source == nil || r.cfg.MaxStaleness <= 0 {
		return
	}
	r.mu.Lock()
	last, ok := r.lastRefresh[userID]
	r.mu.Unlock()
	if ok && r.now().Sub(last) < r.cfg.MaxStaleness {
		return
	}
	if err := r.Refresh(ctx, userID); err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("entitlements.refresh_failed")
	}
}
