package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/gateway"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/storage"
)

// Registry owns the live flows of a process and routes independently
// delivered confirmations to them.
type Registry struct {
	cfg  Config
	deps Deps
	idle time.Duration
	now  func() time.Time

	mu    sync.Mutex
	flows map[string]*Flow
	byTx  map[string]*Flow

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRegistry starts a registry that closes flows idle for longer than idle.
func NewRegistry(cfg Config, deps Deps, idle time.Duration) *Registry {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	r := &Registry{
		cfg:   cfg,
		deps:  deps,
		idle:  idle,
		now:   now,
		flows: make(map[string]*Flow),
		byTx:  make(map[string]*Flow),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Create starts a flow for viewer.
func (r *Registry) Create(viewer access.Viewer) (*Flow, error) {
	f, err := NewFlow(viewer, r.cfg, r.deps)
	if err != nil {
		return nil, err
	}
	f.txHook = func(txID string) {
		r.mu.Lock()
		if _, live := r.flows[f.id]; live {
			r.byTx[txID] = f
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.flows[f.id] = f
	n := len(r.flows)
	r.mu.Unlock()

	r.deps.Metrics.SetActiveFlows(n)
	return f, nil
}

// Get returns a live flow.
func (r *Registry) Get(id string) (*Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return f, nil
}

// Remove closes and drops a flow.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	f, ok := r.flows[id]
	if ok {
		r.dropLocked(f)
	}
	n := len(r.flows)
	r.mu.Unlock()

	if !ok {
		return ErrFlowNotFound
	}
	r.deps.Metrics.SetActiveFlows(n)
	return f.Close()
}

// Len reports the number of live flows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

func (r *Registry) dropLocked(f *Flow) {
	delete(r.flows, f.id)
	for txID, owner := range r.byTx {
		if owner == f {
			delete(r.byTx, txID)
		}
	}
}

// HandleGatewayUpdate applies a confirmation to the flow tracking its
// transaction. Transactions no live flow tracks (abandoned, timed out or
// from a previous process) are settled directly in the store, and a success
// still grants the entitlement.
func (r *Registry) HandleGatewayUpdate(ctx context.Context, update gateway.StatusUpdate) error {
	if update.TransactionID == "" {
		return errors.New("payment: update has no transaction id")
	}

	r.mu.Lock()
	f := r.byTx[update.TransactionID]
	r.mu.Unlock()

	if f != nil {
		err := f.Deliver(ctx, update)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrStaleUpdate) && !errors.Is(err, ErrFlowClosed) {
			return err
		}
	}
	return r.settleOrphan(ctx, update)
}

func (r *Registry) settleOrphan(ctx context.Context, update gateway.StatusUpdate) error {
	if !update.Status.Terminal() {
		return nil
	}
	store := r.deps.Store
	if store == nil {
		r.deps.Logger.Warn().Str("transaction_id", update.TransactionID).Msg("payment.orphan_update_dropped")
		return nil
	}

	rec, err := store.GetTransaction(ctx, update.TransactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrStaleUpdate, update.TransactionID)
	}
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if rec.Status.Terminal() {
		// Duplicate delivery.
		return nil
	}

	settled := update.OccurredAt
	if settled.IsZero() {
		settled = r.now()
	}
	settled = settled.UTC()
	rec.Status = update.Status
	rec.SettledAt = &settled
	if update.Status == access.StatusSuccessful {
		rec.Step = string(StepSucceeded)
		rec.Reason = ""
	} else {
		rec.Step = string(StepFailed)
		rec.Reason = nonEmpty(update.Reason, reasonDeclined)
	}
	if err := store.SaveTransaction(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrSettled) {
			return nil
		}
		return fmt.Errorf("save transaction: %w", err)
	}
	saveSubmission(ctx, r.deps.Idempotency, rec.IdempotencyKey, submission{TransactionID: rec.ID, Status: rec.Status, Message: rec.Reason}, r.cfg.IdempotencyTTL)

	r.deps.Logger.Info().
		Str("transaction_id", rec.ID).
		Str("user_id", rec.UserID).
		Str("status", string(rec.Status)).
		Msg("payment.settled_out_of_band")

	if rec.Succeeded() && r.deps.Grantor != nil {
		if _, err := r.deps.Grantor.RecordPurchase(ctx, rec); err != nil {
			return fmt.Errorf("grant entitlement: %w", err)
		}
	}
	return nil
}

func (r *Registry) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep closes flows whose state has not changed within the idle timeout.
// A flow that is still polling keeps changing, so it is never swept early.
func (r *Registry) sweep() {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var expired []*Flow
	for _, f := range r.flows {
		if f.LastActivity().Before(cutoff) {
			expired = append(expired, f)
		}
	}
	for _, f := range expired {
		r.dropLocked(f)
	}
	n := len(r.flows)
	r.mu.Unlock()

	for _, f := range expired {
		f.Close()
	}
	if len(expired) > 0 {
		r.deps.Metrics.SetActiveFlows(n)
		r.deps.Logger.Debug().Int("count", len(expired)).Msg("payment.flows_expired")
	}
}

// Close stops the sweeper and closes every flow, waiting for their polls.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done

	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]*Flow)
	r.byTx = make(map[string]*Flow)
	r.mu.Unlock()

	for _, f := range flows {
		f.Close()
	}
	r.deps.Metrics.SetActiveFlows(0)
	return nil
}
