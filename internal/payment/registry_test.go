package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/gateway"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRegistry(t *testing.T, h *harness) *Registry {
	t.Helper()
	r := NewRegistry(h.cfg, h.deps, time.Hour)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistryLifecycle(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	r := newTestRegistry(t, h)

	if _, err := r.Create(access.Guest); !errors.Is(err, ErrSignInRequired) {
		t.Fatalf("Create(guest) = %v", err)
	}
	f, err := r.Create(access.Viewer{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := r.Get(f.ID())
	if err != nil || got != f {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if g := promtest.ToFloat64(h.metrics.ActiveFlows); g != 1 {
		t.Errorf("active flows gauge = %v", g)
	}
	if err := r.Remove(f.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Get(f.ID()); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("Get after Remove = %v", err)
	}
	if err := r.Remove(f.ID()); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("second Remove = %v", err)
	}
	if err := f.Select(Selection{Kind: access.Watch}); !errors.Is(err, ErrFlowClosed) {
		t.Errorf("removed flow still usable: %v", err)
	}
}

func TestRegistryRoutesUpdateToFlow(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	h.cfg.PurchasePollInterval = time.Hour
	r := newTestRegistry(t, h)

	f, err := r.Create(access.Viewer{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := f.LoadContent(ctx, "inkotanyi"); err != nil {
		t.Fatal(err)
	}
	if err := f.Select(Selection{Kind: access.Watch}); err != nil {
		t.Fatal(err)
	}
	if err := f.Confirm(ctx, validPhone); err != nil {
		t.Fatal(err)
	}
	txID := f.State().Transaction.ID

	if err := r.HandleGatewayUpdate(ctx, gateway.StatusUpdate{TransactionID: txID, Status: access.StatusSuccessful, EventID: "evt-1"}); err != nil {
		t.Fatalf("HandleGatewayUpdate: %v", err)
	}
	st := waitSettled(t, f)
	if st.Step != StepSucceeded {
		t.Fatalf("step = %s", st.Step)
	}
	if !h.resolver.HasAccess(ctx, access.Viewer{UserID: "user-1"}, "inkotanyi") {
		t.Error("webhook confirmation should grant access")
	}
	// Redelivery of the same event is harmless.
	if err := r.HandleGatewayUpdate(ctx, gateway.StatusUpdate{TransactionID: txID, Status: access.StatusSuccessful, EventID: "evt-1"}); err != nil {
		t.Errorf("redelivery = %v", err)
	}
}

func TestRegistrySettlesAbandonedTransaction(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	h.cfg.PurchasePollInterval = time.Hour
	r := newTestRegistry(t, h)
	viewer := access.Viewer{UserID: "user-1"}

	f, err := r.Create(viewer)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := f.LoadContent(ctx, "inkotanyi"); err != nil {
		t.Fatal(err)
	}
	if err := f.Select(Selection{Kind: access.Download}); err != nil {
		t.Fatal(err)
	}
	if err := f.Confirm(ctx, validPhone); err != nil {
		t.Fatal(err)
	}
	txID := f.State().Transaction.ID
	if err := f.Abandon(); err != nil {
		t.Fatal(err)
	}

	settledAt := epoch.Add(5 * time.Minute)
	update := gateway.StatusUpdate{TransactionID: txID, Status: access.StatusSuccessful, OccurredAt: settledAt}
	if err := r.HandleGatewayUpdate(ctx, update); err != nil {
		t.Fatalf("HandleGatewayUpdate: %v", err)
	}

	if st := f.State(); st.Step != StepChoosingOption || st.Transaction != nil {
		t.Errorf("abandoned flow was resurrected: %s", st.Step)
	}
	rec, err := h.store.GetTransaction(ctx, txID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != access.StatusSuccessful || rec.Step != string(StepSucceeded) {
		t.Errorf("record = %s/%s", rec.Status, rec.Step)
	}
	if rec.SettledAt == nil || !rec.SettledAt.Equal(settledAt) {
		t.Errorf("settled at = %v, want %v", rec.SettledAt, settledAt)
	}
	expiry, ok := h.resolver.AccessExpiry(ctx, viewer, "inkotanyi")
	if !ok || expiry != nil {
		t.Errorf("download should be permanent, got %v %v", expiry, ok)
	}

	// The webhook settled the charge, so buying again is a new charge.
	if err := f.Select(Selection{Kind: access.Download}); err != nil {
		t.Fatal(err)
	}
	if err := f.Confirm(ctx, validPhone); err != nil {
		t.Fatal(err)
	}
	st := f.State()
	if st.Step != StepAwaitingGateway || st.Transaction == nil || st.Transaction.ID == txID {
		t.Errorf("re-confirm = %s %v, want a new pending transaction", st.Step, st.Transaction)
	}
	if submits, _ := h.gw.counts(); submits != 2 {
		t.Errorf("submits = %d, want 2", submits)
	}
}

func TestRegistrySettlesConfirmationAfterTimeout(t *testing.T) {
	gw := &fakeGateway{lookups: pending(1)}
	h := newHarness(t, gw)
	h.cfg.MaxPolls = 3
	r := newTestRegistry(t, h)
	viewer := access.Viewer{UserID: "user-1"}
	ctx := context.Background()

	f, err := r.Create(viewer)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.LoadContent(ctx, "inkotanyi"); err != nil {
		t.Fatal(err)
	}
	if err := f.Select(Selection{Kind: access.Watch}); err != nil {
		t.Fatal(err)
	}
	if err := f.Confirm(ctx, validPhone); err != nil {
		t.Fatal(err)
	}
	st := waitSettled(t, f)
	if st.Step != StepFailed || st.Error.Code != apierrors.ErrCodeVerificationTimeout {
		t.Fatalf("state = %s %+v, want verification_timeout", st.Step, st.Error)
	}
	txID := st.Transaction.ID
	if h.resolver.HasAccess(ctx, viewer, "inkotanyi") {
		t.Fatal("no access before the gateway confirms")
	}

	h.clock.Advance(10 * time.Minute)
	update := gateway.StatusUpdate{TransactionID: txID, Status: access.StatusSuccessful, EventID: "evt-late"}
	if err := r.HandleGatewayUpdate(ctx, update); err != nil {
		t.Fatalf("HandleGatewayUpdate: %v", err)
	}

	rec, err := h.store.GetTransaction(ctx, txID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != access.StatusSuccessful || rec.Step != string(StepSucceeded) {
		t.Errorf("record = %s/%s, want SUCCESSFUL/SUCCEEDED", rec.Status, rec.Step)
	}
	expiry, ok := h.resolver.AccessExpiry(ctx, viewer, "inkotanyi")
	if want := epoch.Add(10*time.Minute + 48*time.Hour); !ok || expiry == nil || !expiry.Equal(want) {
		t.Errorf("expiry = %v %v, want %v", expiry, ok, want)
	}

	// Redelivery is a duplicate.
	if err := r.HandleGatewayUpdate(ctx, update); err != nil {
		t.Errorf("redelivery = %v", err)
	}
	if submits, _ := gw.counts(); submits != 1 {
		t.Errorf("submits = %d, want 1", submits)
	}
}

func TestRegistryOrphanUpdates(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	r := newTestRegistry(t, h)
	ctx := context.Background()

	if err := r.HandleGatewayUpdate(ctx, gateway.StatusUpdate{}); err == nil {
		t.Error("update without transaction id should fail")
	}
	if err := r.HandleGatewayUpdate(ctx, gateway.StatusUpdate{TransactionID: "unknown", Status: access.StatusSuccessful}); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("unknown transaction = %v, want ErrStaleUpdate", err)
	}
	if err := r.HandleGatewayUpdate(ctx, gateway.StatusUpdate{TransactionID: "unknown", Status: access.StatusPending}); err != nil {
		t.Errorf("pending update for unknown transaction = %v", err)
	}
}

func TestRegistrySweepsIdleFlows(t *testing.T) {
	h := newHarness(t, &fakeGateway{})
	r := newTestRegistry(t, h)

	idle, err := r.Create(access.Viewer{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(45 * time.Minute)
	active, err := r.Create(access.Viewer{UserID: "user-2"})
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(30 * time.Minute)

	r.sweep()

	if r.Len() != 1 {
		t.Fatalf("live flows = %d, want 1", r.Len())
	}
	if _, err := r.Get(idle.ID()); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("idle flow still registered: %v", err)
	}
	if _, err := r.Get(active.ID()); err != nil {
		t.Errorf("active flow swept: %v", err)
	}
	if err := idle.LoadContent(context.Background(), "inkotanyi"); !errors.Is(err, ErrFlowClosed) {
		t.Errorf("swept flow not closed: %v", err)
	}
}
