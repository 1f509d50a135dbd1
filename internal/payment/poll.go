package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/gateway"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/idempotency"
)

// maxReplayChain bounds how many settled attempts of one logical purchase
// are skipped when looking for the key of the next attempt.
const maxReplayChain = 8

// outcome is a terminal gateway result waiting to be applied.
type outcome struct {
	status access.GatewayStatus
	code   apierrors.ErrorCode
	reason string
	// label is the metrics outcome for failures.
	label string
}

// startPollerLocked replaces any running poll with one for txID.
func (f *Flow) startPollerLocked(gen uint64, txID string, interval time.Duration) {
	f.stopPollerLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.cancelPoll = cancel
	f.pollDone = done
	go f.pollLoop(ctx, done, gen, txID, interval)
}

func (f *Flow) stopPollerLocked() {
	if f.cancelPoll != nil {
		f.cancelPoll()
		f.cancelPoll = nil
		f.pollDone = nil
	}
}

// pollLoop performs one status lookup per tick. The next tick is armed only
// after the previous lookup was applied, so at most one lookup is in flight.
func (f *Flow) pollLoop(ctx context.Context, done chan struct{}, gen uint64, txID string, interval time.Duration) {
	defer close(done)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	failures, ticks := 0, 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		ticks++
		res, err := f.deps.Gateway.GetPaymentStatus(ctx, txID)
		if ctx.Err() != nil {
			return
		}
		if !f.applyPoll(gen, txID, res, err, &failures, ticks) {
			return
		}
		timer.Reset(interval)
	}
}

// applyPoll applies one lookup and reports whether polling continues.
func (f *Flow) applyPoll(gen uint64, txID string, res gateway.StatusResult, err error, failures *int, ticks int) bool {
	f.mu.Lock()
	tx := f.state.Transaction
	if f.closed || f.gen != gen || f.finalizing || f.state.Step != StepAwaitingGateway || tx == nil || tx.ID != txID {
		f.mu.Unlock()
		return false
	}
	kind := string(tx.Request.Kind)

	var o *outcome
	if err != nil {
		*failures++
		f.deps.Metrics.ObservePoll(kind, "error")
		f.logger.Warn().Err(err).
			Str("transaction_id", txID).
			Int("consecutive_failures", *failures).
			Msg("payment.lookup_failed")
		if *failures > f.cfg.MaxLookupFailures {
			o = &outcome{status: access.StatusPending, code: apierrors.ErrCodeVerificationTimeout, reason: reasonLookupFailure, label: "lookup_failed"}
		} else {
			f.state.StatusMessage = "Still checking your payment"
		}
	} else {
		*failures = 0
		tx.PollAttempts++
		f.state.PollCount = tx.PollAttempts
		f.deps.Metrics.ObservePoll(kind, string(res.Status))

		switch res.Status {
		case access.StatusSuccessful:
			o = &outcome{status: access.StatusSuccessful}
		case access.StatusFailed:
			o = &outcome{status: access.StatusFailed, code: apierrors.ErrCodeGatewayDeclined, reason: nonEmpty(res.Reason, reasonDeclined), label: "declined"}
		default:
			if tx.PollAttempts >= f.cfg.MaxPolls {
				o = &outcome{status: access.StatusPending, code: apierrors.ErrCodeVerificationTimeout, reason: reasonPollTimeout, label: "timeout"}
			} else {
				f.state.StatusMessage = fmt.Sprintf("Waiting for confirmation (%d/%d)", tx.PollAttempts, f.cfg.MaxPolls)
			}
		}
	}
	// Lookup failures do not count as attempts; this caps the total ticks.
	if o == nil && ticks >= f.cfg.MaxPolls+f.cfg.MaxLookupFailures {
		o = &outcome{status: access.StatusPending, code: apierrors.ErrCodeVerificationTimeout, reason: reasonPollTimeout, label: "timeout"}
	}

	if o == nil {
		f.changedLocked()
		f.mu.Unlock()
		return true
	}

	// Cancel our own context but keep pollDone so Close waits for settle.
	f.finalizing, f.finalStatus = true, o.status
	f.cancelPoll()
	f.cancelPoll = nil
	snap, key := *tx, f.idemKey
	f.mu.Unlock()

	f.settle(context.Background(), gen, snap, key, *o)
	return false
}

// settle records a terminal outcome. Side effects that must happen whether
// or not the viewer is still here (the grant, the durable record, the
// submission cache) run first; the state is updated last, only if the flow
// still tracks this attempt.
func (f *Flow) settle(ctx context.Context, gen uint64, tx Transaction, key string, o outcome) {
	now := f.now().UTC()
	step := StepFailed
	if o.status == access.StatusSuccessful {
		step = StepSucceeded
	}
	tx.GatewayStatus = o.status
	tx.Reason = o.reason
	if o.status.Terminal() {
		tx.SettledAt = &now
	}
	elapsed := now.Sub(tx.CreatedAt)
	log := f.logger.With().
		Str("transaction_id", tx.ID).
		Str("kind", string(tx.Request.Kind)).
		Int("poll_attempts", tx.PollAttempts).
		Logger()

	if step == StepSucceeded {
		if f.deps.Grantor != nil {
			ent, err := f.deps.Grantor.RecordPurchase(ctx, f.record(tx, step, key))
			if err != nil {
				log.Error().Err(err).Msg("payment.grant_failed")
			} else {
				tx.Entitlement = &ent
			}
		}
		if f.details != nil {
			if d, err := f.details.GetTransactionDetails(ctx, tx.ID); err != nil {
				log.Debug().Err(err).Msg("payment.details_failed")
			} else {
				tx.StreamingURL = d.SecureStreamingURL
				tx.DownloadURL = d.SecureDownloadURL
			}
		}
		f.deps.Metrics.ObserveOutcome(string(tx.Request.Kind), "succeeded", elapsed, tx.Request.Amount, tx.Request.Currency)
		log.Info().Int64("amount", tx.Request.Amount).Str("currency", tx.Request.Currency).Msg("payment.succeeded")
	} else {
		f.deps.Metrics.ObserveOutcome(string(tx.Request.Kind), o.label, elapsed, tx.Request.Amount, tx.Request.Currency)
		switch o.code {
		case apierrors.ErrCodeVerificationTimeout:
			log.Warn().Str("reason", o.label).Msg("payment.poll_timeout")
		default:
			log.Warn().Str("reason", o.reason).Msg("payment.declined")
		}
	}

	// A timed-out attempt stays PENDING in both places: the debit may still
	// settle, and confirming the same purchase again resumes it.
	f.persist(ctx, f.record(tx, step, key))
	if o.status.Terminal() {
		saveSubmission(ctx, f.deps.Idempotency, key, submission{TransactionID: tx.ID, Status: o.status, Message: o.reason}, f.cfg.IdempotencyTTL)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.gen != gen {
		return
	}
	f.finalizing = false
	f.state.Transaction = &tx
	f.state.PollCount = tx.PollAttempts
	if step == StepSucceeded {
		f.moveLocked(StepSucceeded)
		f.state.Error = nil
		f.state.StatusMessage = "Payment confirmed"
		f.closeSettledLocked()
	} else {
		f.failLocked(o.code, o.reason)
	}
	f.changedLocked()
}

// submission is what the idempotency store remembers about an accepted charge.
type submission struct {
	TransactionID string               `json:"transactionId"`
	Status        access.GatewayStatus `json:"status"`
	Message       string               `json:"message,omitempty"`
}

func (s submission) result() gateway.SubmitResult {
	return gateway.SubmitResult{TransactionID: s.TransactionID, Status: s.Status, Message: s.Message}
}

func submissionKey(key string) string {
	return "payment:" + key
}

func loadSubmission(ctx context.Context, store idempotency.Store, key string) (submission, bool) {
	if store == nil {
		return submission{}, false
	}
	cached, ok := store.Get(ctx, submissionKey(key))
	if !ok {
		return submission{}, false
	}
	var s submission
	if err := json.Unmarshal(cached.Body, &s); err != nil || s.TransactionID == "" {
		return submission{}, false
	}
	return s, true
}

func saveSubmission(ctx context.Context, store idempotency.Store, key string, s submission, ttl time.Duration) {
	if store == nil || key == "" || s.TransactionID == "" {
		return
	}
	body, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = store.Set(ctx, submissionKey(key), &idempotency.Response{
		StatusCode: http.StatusAccepted,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
		CachedAt:   time.Now(),
	}, ttl)
}
