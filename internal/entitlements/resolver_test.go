package entitlements

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/gateway"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/storage"
	"github.com/rs/zerolog"
)

var epoch = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu       sync.Mutex
	snapshot gateway.EntitlementSnapshot
	err      error
	calls    int32
	block    chan struct{}
}

func (f *fakeSource) GetUserEntitlements(_ context.Context, _ string) (gateway.EntitlementSnapshot, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestResolver(t *testing.T, source SnapshotSource) (*Resolver, *storage.MemoryStore, *clock) {
	t.Helper()
	store := storage.NewMemoryStore()
	clk := &clock{now: epoch}
	r := NewResolver(store, DefaultConfig(), Options{Source: source, Logger: zerolog.Nop(), Now: clk.Now})
	return r, store, clk
}

func timePtr(t time.Time) *time.Time { return &t }

func succeeded(id, user, content string, kind access.Kind, settled time.Time) storage.TransactionRecord {
	return storage.TransactionRecord{
		ID:        id,
		UserID:    user,
		ContentID: content,
		Kind:      kind,
		Amount:    500,
		Currency:  "RWF",
		Status:    access.StatusSuccessful,
		CreatedAt: settled.Add(-time.Minute),
		SettledAt: timePtr(settled),
	}
}

func TestLookupPriority(t *testing.T) {
	ctx := context.Background()
	viewer := access.Viewer{UserID: "user-1"}

	t.Run("active entitlement", func(t *testing.T) {
		r, store, _ := newTestResolver(t, nil)
		expires := epoch.Add(10 * time.Hour)
		_ = store.SaveEntitlement(ctx, access.Entitlement{UserID: "user-1", ContentID: "m1", Kind: access.Watch, GrantedAt: epoch, ExpiresAt: &expires})

		grant, ok, err := r.Lookup(ctx, viewer, "m1")
		if err != nil || !ok {
			t.Fatalf("expected access, got ok=%v err=%v", ok, err)
		}
		if grant.Source != SourceEntitlement || !grant.ExpiresAt.Equal(expires) {
			t.Errorf("unexpected grant %+v", grant)
		}
	})

	t.Run("expired entitlement confers nothing", func(t *testing.T) {
		r, store, _ := newTestResolver(t, nil)
		_ = store.SaveEntitlement(ctx, access.Entitlement{UserID: "user-1", ContentID: "m1", Kind: access.Watch, GrantedAt: epoch.Add(-72 * time.Hour), ExpiresAt: timePtr(epoch.Add(-time.Hour))})

		if r.HasAccess(ctx, viewer, "m1") {
			t.Error("expired entitlement must not grant access")
		}
		ok, err := r.RequiresPurchase(ctx, viewer, "m1")
		if err != nil || !ok {
			t.Errorf("expected purchase required, got %v %v", ok, err)
		}
	})

	t.Run("succeeded transaction without entitlement", func(t *testing.T) {
		r, store, _ := newTestResolver(t, nil)
		_ = store.SaveTransaction(ctx, succeeded("tx-1", "user-1", "m1", access.Watch, epoch))

		grant, ok, err := r.Lookup(ctx, viewer, "m1")
		if err != nil || !ok {
			t.Fatalf("expected access, got ok=%v err=%v", ok, err)
		}
		if grant.Source != SourceTransaction || grant.TransactionID != "tx-1" {
			t.Errorf("unexpected grant %+v", grant)
		}
	})

	t.Run("pending transaction grants nothing", func(t *testing.T) {
		r, store, _ := newTestResolver(t, nil)
		tx := succeeded("tx-1", "user-1", "m1", access.Watch, epoch)
		tx.Status = access.StatusPending
		tx.SettledAt = nil
		_ = store.SaveTransaction(ctx, tx)

		if r.HasAccess(ctx, viewer, "m1") {
			t.Error("pending transaction must not grant access")
		}
	})

	t.Run("old watch transaction has lapsed", func(t *testing.T) {
		r, store, _ := newTestResolver(t, nil)
		_ = store.SaveTransaction(ctx, succeeded("tx-1", "user-1", "m1", access.Watch, epoch.Add(-49*time.Hour)))

		if r.HasAccess(ctx, viewer, "m1") {
			t.Error("derived watch grant should expire after 48h")
		}
	})

	t.Run("permanent grant wins", func(t *testing.T) {
		r, store, _ := newTestResolver(t, nil)
		_ = store.SaveEntitlement(ctx, access.Entitlement{UserID: "user-1", ContentID: "m1", Kind: access.Watch, GrantedAt: epoch, ExpiresAt: timePtr(epoch.Add(time.Hour))})
		_ = store.SaveEntitlement(ctx, access.Entitlement{UserID: "user-1", ContentID: "m1", Kind: access.Download, GrantedAt: epoch})

		expires, ok := r.AccessExpiry(ctx, viewer, "m1")
		if !ok || expires != nil {
			t.Errorf("expected permanent access, got %v ok=%v", expires, ok)
		}
	})
}

func TestGuestNeverGetsPaidAccess(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestResolver(t, nil)
	_ = store.SaveEntitlement(ctx, access.Entitlement{UserID: "user-1", ContentID: "m1", Kind: access.Download, GrantedAt: epoch})

	if r.HasAccess(ctx, access.Guest, "m1") {
		t.Error("guest must not have access")
	}
	if _, err := r.RequiresPurchase(ctx, access.Guest, "m1"); !errors.Is(err, ErrGuest) {
		t.Errorf("expected ErrGuest, got %v", err)
	}
	if err := r.Grant(ctx, access.Entitlement{ContentID: "m1", Kind: access.Watch}); !errors.Is(err, ErrGuest) {
		t.Errorf("expected ErrGuest for guest grant, got %v", err)
	}
}

func TestHasAccessIdempotent(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newTestResolver(t, nil)
	viewer := access.Viewer{UserID: "user-1"}
	_ = store.SaveTransaction(ctx, succeeded("tx-1", "user-1", "m1", access.Watch, epoch))

	first := r.HasAccess(ctx, viewer, "m1")
	second := r.HasAccess(ctx, viewer, "m1")
	if first != second || !first {
		t.Errorf("HasAccess not idempotent: %v then %v", first, second)
	}
}

func TestFromTransactionWindows(t *testing.T) {
	r, _, _ := newTestResolver(t, nil)

	tests := []struct {
		name    string
		tx      storage.TransactionRecord
		want    *time.Time
		wantErr bool
	}{
		{"watch is exactly 48h", succeeded("t1", "u", "m1", access.Watch, epoch), timePtr(epoch.Add(48 * time.Hour)), false},
		{"download is permanent", succeeded("t2", "u", "m1", access.Download, epoch), nil, false},
		{"series uses purchased period", func() storage.TransactionRecord {
			tx := succeeded("t3", "u", "s1", access.SeriesAccess, epoch)
			tx.Period = "30d"
			return tx
		}(), timePtr(epoch.Add(30 * 24 * time.Hour)), false},
		{"plan uses configured period", func() storage.TransactionRecord {
			tx := succeeded("t4", "u", "", access.SubscriptionUpgrade, epoch)
			tx.Plan = "premium"
			return tx
		}(), timePtr(epoch.Add(30 * 24 * time.Hour)), false},
		{"series without period", succeeded("t5", "u", "s1", access.SeriesAccess, epoch), nil, true},
		{"unknown plan", func() storage.TransactionRecord {
			tx := succeeded("t6", "u", "", access.SubscriptionUpgrade, epoch)
			tx.Plan = "gold"
			return tx
		}(), nil, true},
		{"not settled", func() storage.TransactionRecord {
			tx := succeeded("t7", "u", "m1", access.Watch, epoch)
			tx.Status = access.StatusFailed
			return tx
		}(), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent, err := r.FromTransaction(tt.tx)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FromTransaction: %v", err)
			}
			if !ent.GrantedAt.Equal(epoch) {
				t.Errorf("grantedAt = %v, want %v", ent.GrantedAt, epoch)
			}
			switch {
			case tt.want == nil && ent.ExpiresAt != nil:
				t.Errorf("expected permanent grant, got %v", ent.ExpiresAt)
			case tt.want != nil && (ent.ExpiresAt == nil || !ent.ExpiresAt.Equal(*tt.want)):
				t.Errorf("expiresAt = %v, want %v", ent.ExpiresAt, tt.want)
			}
		})
	}
}

func TestRecordPurchaseNotifiesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestResolver(t, nil)
	viewer := access.Viewer{UserID: "user-1"}

	// Prime the cache with an empty entitlement list.
	if r.HasAccess(ctx, viewer, "m1") {
		t.Fatal("unexpected access before purchase")
	}

	var changes []Change
	unsubscribe := r.OnChange(func(c Change) { changes = append(changes, c) })

	ent, err := r.RecordPurchase(ctx, succeeded("tx-1", "user-1", "m1", access.Watch, epoch))
	if err != nil {
		t.Fatalf("RecordPurchase: %v", err)
	}
	if !ent.ExpiresAt.Equal(epoch.Add(48 * time.Hour)) {
		t.Errorf("unexpected expiry %v", ent.ExpiresAt)
	}

	grant, ok, err := r.Lookup(ctx, viewer, "m1")
	if err != nil || !ok || grant.Source != SourceEntitlement {
		t.Fatalf("grant should be visible immediately, got %+v ok=%v err=%v", grant, ok, err)
	}
	if len(changes) != 1 || changes[0].Reason != ChangeGrant || changes[0].ContentID != "m1" {
		t.Errorf("unexpected changes %+v", changes)
	}

	unsubscribe()
	_, _ = r.RecordPurchase(ctx, succeeded("tx-2", "user-1", "m2", access.Download, epoch))
	if len(changes) != 1 {
		t.Error("listener called after unsubscribe")
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	r, store, _ := newTestResolver(t, source)
	viewer := access.Viewer{UserID: "user-1"}

	_ = store.SaveEntitlement(ctx, access.Entitlement{UserID: "user-1", ContentID: "stale", Kind: access.Download, GrantedAt: epoch})
	source.snapshot = gateway.EntitlementSnapshot{
		ServerTime: epoch,
		Entitlements: []access.Entitlement{
			{ContentID: "m1", Kind: access.Watch, GrantedAt: epoch, ExpiresAt: timePtr(epoch.Add(48 * time.Hour))},
		},
	}

	var refreshed int
	r.OnChange(func(c Change) {
		if c.Reason == ChangeRefresh && c.UserID == "user-1" {
			refreshed++
		}
	})

	if err := r.Refresh(ctx, "user-1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !r.HasAccess(ctx, viewer, "m1") {
		t.Error("expected access from snapshot")
	}
	if r.HasAccess(ctx, viewer, "stale") {
		t.Error("snapshot should replace stale grants")
	}
	if refreshed != 1 {
		t.Errorf("refresh listeners called %d times", refreshed)
	}

	source.err = errors.New("gateway down")
	if err := r.Refresh(ctx, "user-1"); err == nil {
		t.Error("expected refresh error")
	}
	if !r.HasAccess(ctx, viewer, "m1") {
		t.Error("failed refresh must keep the previous grants")
	}
}

func TestRefreshWithoutSource(t *testing.T) {
	r, _, _ := newTestResolver(t, nil)
	if err := r.Refresh(context.Background(), "user-1"); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestRefreshCoalesced(t *testing.T) {
	source := &fakeSource{block: make(chan struct{}), snapshot: gateway.EntitlementSnapshot{ServerTime: epoch}}
	r, _, _ := newTestResolver(t, source)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Refresh(context.Background(), "user-1")
		}()
	}
	// Let the callers pile up behind the first request.
	for atomic.LoadInt32(&source.calls) == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(source.block)
	wg.Wait()

	if calls := atomic.LoadInt32(&source.calls); calls >= 5 {
		t.Errorf("expected coalesced refreshes, got %d source calls", calls)
	}
}

func TestServerClockDecidesAccess(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	r, _, clk := newTestResolver(t, source)
	viewer := access.Viewer{UserID: "user-1"}

	// Local clock runs two hours ahead of the server.
	clk.now = epoch.Add(2 * time.Hour)
	source.snapshot = gateway.EntitlementSnapshot{
		ServerTime: epoch,
		Entitlements: []access.Entitlement{
			{ContentID: "m1", Kind: access.Watch, GrantedAt: epoch.Add(-47 * time.Hour), ExpiresAt: timePtr(epoch.Add(time.Hour))},
		},
	}
	if err := r.Refresh(ctx, "user-1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if !r.ServerNow().Equal(epoch) {
		t.Errorf("ServerNow = %v, want %v", r.ServerNow(), epoch)
	}
	if !r.HasAccess(ctx, viewer, "m1") {
		t.Error("skewed local clock must not deny access the server still grants")
	}
	if r.ShowWatchAffordance(ctx, viewer, "m1") {
		t.Error("watch affordance may be hidden by the local clock")
	}

	clk.Advance(-2 * time.Hour)
	r.mu.Lock()
	r.offset = 0
	r.mu.Unlock()
	if !r.ShowWatchAffordance(ctx, viewer, "m1") {
		t.Error("affordance should show while both clocks agree the window is open")
	}
}

func TestStaleSnapshotRefreshedBeforeCheck(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{snapshot: gateway.EntitlementSnapshot{
		ServerTime:   epoch,
		Entitlements: []access.Entitlement{{ContentID: "m1", Kind: access.Download, GrantedAt: epoch}},
	}}
	store := storage.NewMemoryStore()
	clk := &clock{now: epoch}
	cfg := DefaultConfig()
	cfg.MaxStaleness = time.Minute
	r := NewResolver(store, cfg, Options{Source: source, Logger: zerolog.Nop(), Now: clk.Now})
	viewer := access.Viewer{UserID: "user-1"}

	if !r.HasAccess(ctx, viewer, "m1") {
		t.Fatal("expected access after implicit refresh")
	}
	r.HasAccess(ctx, viewer, "m1")
	if calls := atomic.LoadInt32(&source.calls); calls != 1 {
		t.Errorf("expected one refresh within staleness window, got %d", calls)
	}

	clk.Advance(2 * time.Minute)
	r.HasAccess(ctx, viewer, "m1")
	if calls := atomic.LoadInt32(&source.calls); calls != 2 {
		t.Errorf("expected a second refresh after staleness window, got %d", calls)
	}
}
