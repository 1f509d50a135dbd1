// Package payment drives a mobile-money purchase from the viewer's choice of
// option to a gateway-confirmed outcome.
//
// A Flow is an explicit state machine (see Step). Submission is synchronous;
// confirmation is a bounded poll owned by the flow itself, so it keeps running
// whether or not anyone is observing the flow, and is cancelled whenever the
// flow leaves AWAITING_GATEWAY.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/catalog"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/gateway"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/idempotency"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/pricing"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config tunes submission and the confirmation poll.
type Config struct {
	PurchasePollInterval time.Duration
	UpgradePollInterval  time.Duration
	MaxPolls             int
	// MaxLookupFailures is how many consecutive failed status lookups are
	// retried before the flow gives up.
	MaxLookupFailures int
	SubmitTimeout     time.Duration
	IdempotencyTTL    time.Duration
	PhoneCountry      string
}

// DefaultConfig returns the storefront's production polling protocol.
func DefaultConfig() Config {
	return Config{
		PurchasePollInterval: 10 * time.Second,
		UpgradePollInterval:  3 * time.Second,
		MaxPolls:             30,
		MaxLookupFailures:    5,
		SubmitTimeout:        30 * time.Second,
		IdempotencyTTL:       idempotency.DefaultTTL,
		PhoneCountry:         "RW",
	}
}

// ConfigFromApp converts the application payment section.
func ConfigFromApp(cfg config.PaymentConfig) Config {
	out := DefaultConfig()
	if cfg.PurchasePollInterval.Duration > 0 {
		out.PurchasePollInterval = cfg.PurchasePollInterval.Duration
	}
	if cfg.UpgradePollInterval.Duration > 0 {
		out.UpgradePollInterval = cfg.UpgradePollInterval.Duration
	}
	if cfg.MaxPolls > 0 {
		out.MaxPolls = cfg.MaxPolls
	}
	if cfg.MaxLookupFailures >= 0 {
		out.MaxLookupFailures = cfg.MaxLookupFailures
	}
	if cfg.SubmitTimeout.Duration > 0 {
		out.SubmitTimeout = cfg.SubmitTimeout.Duration
	}
	if cfg.IdempotencyTTL.Duration > 0 {
		out.IdempotencyTTL = cfg.IdempotencyTTL.Duration
	}
	if cfg.PhoneCountry != "" {
		out.PhoneCountry = cfg.PhoneCountry
	}
	return out
}

// Gateway is the part of the Transaction Store a flow talks to.
// *gateway.Client satisfies it.
type Gateway interface {
	SubmitPayment(ctx context.Context, req gateway.SubmitRequest, idempotencyKey string) (gateway.SubmitResult, error)
	GetPaymentStatus(ctx context.Context, transactionID string) (gateway.StatusResult, error)
}

// DetailsSource is implemented by gateways that issue secure media URLs for a
// succeeded transaction.
type DetailsSource interface {
	GetTransactionDetails(ctx context.Context, transactionID string) (gateway.TransactionDetails, error)
}

// Grantor turns a succeeded transaction into an entitlement and tells its
// listeners. *entitlements.Resolver satisfies it.
type Grantor interface {
	RecordPurchase(ctx context.Context, tx storage.TransactionRecord) (access.Entitlement, error)
}

// Deps are a flow's collaborators. Gateway and Pricing are required.
type Deps struct {
	Gateway     Gateway
	Catalog     catalog.Repository
	Pricing     *pricing.Calculator
	Store       storage.Store
	Idempotency idempotency.Store
	Grantor     Grantor
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Selection is the option the viewer picked.
type Selection struct {
	Kind   access.Kind `json:"kind"`
	Period string      `json:"period,omitempty"`
	Plan   string      `json:"plan,omitempty"`
}

// PurchaseRequest is the charge as submitted. It never changes afterwards.
type PurchaseRequest struct {
	ContentID  string      `json:"contentId,omitempty"`
	Kind       access.Kind `json:"kind"`
	Amount     int64       `json:"amount"`
	Currency   string      `json:"currency"`
	PayerPhone string      `json:"payerPhone"`
	Period     string      `json:"period,omitempty"`
	Plan       string      `json:"plan,omitempty"`
}

// Transaction is a submitted charge as the flow tracks it.
type Transaction struct {
	ID            string               `json:"transactionId"`
	Request       PurchaseRequest      `json:"request"`
	GatewayStatus access.GatewayStatus `json:"gatewayStatus"`
	PollAttempts  int                  `json:"pollAttempts"`
	CreatedAt     time.Time            `json:"createdAt"`
	SettledAt     *time.Time           `json:"settledAt,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	StreamingURL  string               `json:"secureStreamingUrl,omitempty"`
	DownloadURL   string               `json:"secureDownloadUrl,omitempty"`
	Entitlement   *access.Entitlement  `json:"entitlement,omitempty"`
}

// State is the observable view of a flow.
type State struct {
	FlowID        string           `json:"flowId"`
	UserID        string           `json:"userId"`
	Step          Step             `json:"step"`
	ContentID     string           `json:"contentId,omitempty"`
	Content       *catalog.Content `json:"content,omitempty"`
	Selection     *Selection       `json:"selection,omitempty"`
	Quote         *pricing.Quote   `json:"quote,omitempty"`
	Error         *FlowError       `json:"error,omitempty"`
	StatusMessage string           `json:"statusMessage,omitempty"`
	PollCount     int              `json:"pollCount"`
	Transaction   *Transaction     `json:"transaction,omitempty"`
	// SupportReference is the last transaction id, kept after Retry so the
	// viewer can quote it to support.
	SupportReference string    `json:"supportReference,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Flow is one viewer's purchase attempt. All methods are safe for concurrent use.
type Flow struct {
	id      string
	viewer  access.Viewer
	cfg     Config
	deps    Deps
	details DetailsSource
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State
	// gen changes whenever the current transaction is discarded; responses
	// carrying an older gen are dropped.
	gen        uint64
	idemKey    string
	startedAt  time.Time
	finalizing bool
	// finalStatus is the outcome being settled while finalizing.
	finalStatus access.GatewayStatus
	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	settled    chan struct{}
	closed     bool
	closedCh   chan struct{}
	subs       map[int]chan State
	nextSub    int

	// txHook reports newly tracked transaction ids to the Registry.
	txHook func(txID string)
}

// NewFlow starts a flow for an authenticated viewer in CHOOSING_OPTION.
func NewFlow(viewer access.Viewer, cfg Config, deps Deps) (*Flow, error) {
	if viewer.IsGuest() {
		return nil, ErrSignInRequired
	}
	if deps.Gateway == nil || deps.Pricing == nil {
		return nil, errors.New("payment: gateway and pricing are required")
	}
	if cfg.MaxPolls <= 0 || cfg.PurchasePollInterval <= 0 || cfg.UpgradePollInterval <= 0 {
		return nil, errors.New("payment: poll interval and max polls must be positive")
	}
	if _, ok := momoPatterns[strings.ToUpper(cfg.PhoneCountry)]; !ok {
		return nil, fmt.Errorf("payment: unsupported phone country %q", cfg.PhoneCountry)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	id := uuid.NewString()
	f := &Flow{
		id:       id,
		viewer:   viewer,
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With().Str("flow_id", id).Str("user_id", viewer.UserID).Logger(),
		now:      now,
		settled:  make(chan struct{}),
		closedCh: make(chan struct{}),
		subs:     make(map[int]chan State),
	}
	f.details, _ = deps.Gateway.(DetailsSource)
	f.state = State{FlowID: id, UserID: viewer.UserID, Step: StepChoosingOption, UpdatedAt: now()}
	return f, nil
}

// ID returns the flow id.
func (f *Flow) ID() string { return f.id }

// State returns a copy of the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// LastActivity is when the state last changed.
func (f *Flow) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.UpdatedAt
}

// LoadContent fetches pricing metadata for contentID. It is only allowed
// while choosing an option.
func (f *Flow) LoadContent(ctx context.Context, contentID string) error {
	if f.deps.Catalog == nil {
		return errors.New("payment: no catalog configured")
	}
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return validationError(apierrors.ErrCodeMissingField, "contentId", "content id is required")
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.state.Step != StepChoosingOption {
		step := f.state.Step
		f.mu.Unlock()
		return fmt.Errorf("%w: cannot load content in %s", ErrIllegalTransition, step)
	}
	gen := f.gen
	f.mu.Unlock()

	content, err := f.deps.Catalog.GetContent(ctx, contentID)
	if err != nil {
		if errors.Is(err, catalog.ErrContentNotFound) {
			return &FlowError{Code: apierrors.ErrCodeContentNotFound, Field: "contentId", Reason: "this title is not available"}
		}
		return &FlowError{Code: apierrors.ErrCodeCatalogError, Reason: "could not load the title's prices"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFlowClosed
	}
	if f.gen != gen || f.state.Step != StepChoosingOption {
		return fmt.Errorf("%w: flow moved on while loading content", ErrIllegalTransition)
	}
	c := content.Clone()
	f.state.Content = &c
	f.state.ContentID = content.ID
	f.state.Selection = nil
	f.state.Quote = nil
	f.state.Error = nil
	f.changedLocked()
	return nil
}

// Select prices the chosen option and moves to CONFIRMING. Subscription
// upgrades need a plan but no content; every other kind needs loaded content.
func (f *Flow) Select(sel Selection) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFlowClosed
	}
	if err := transition(f.state.Step, StepConfirming); err != nil {
		return err
	}

	quote, err := f.priceLocked(sel)
	if err != nil {
		var ferr *FlowError
		if errors.As(err, &ferr) {
			f.state.Error = ferr
			f.changedLocked()
		}
		return err
	}
	sel.Kind = quote.Kind
	f.state.Selection = &sel
	f.state.Quote = &quote
	f.state.Error = nil
	f.moveLocked(StepConfirming)
	f.state.StatusMessage = fmt.Sprintf("Confirm payment of %s", quote.Amount)
	f.changedLocked()
	return nil
}

func (f *Flow) priceLocked(sel Selection) (pricing.Quote, error) {
	kind := sel.Kind
	if kind == "" {
		return pricing.Quote{}, validationError(apierrors.ErrCodeMissingSelection, "kind", "choose how you want to access this title")
	}
	if !kind.Valid() {
		parsed, err := access.ParseKind(string(kind))
		if err != nil {
			return pricing.Quote{}, validationError(apierrors.ErrCodeInvalidField, "kind", "unknown access option")
		}
		kind = parsed
	}

	if kind == access.SubscriptionUpgrade {
		if strings.TrimSpace(sel.Plan) == "" {
			return pricing.Quote{}, validationError(apierrors.ErrCodeMissingSelection, "plan", "choose a plan")
		}
		q, err := f.deps.Pricing.PlanPrice(sel.Plan)
		if err != nil {
			return pricing.Quote{}, validationError(apierrors.ErrCodeInvalidField, "plan", "unknown plan")
		}
		return q, nil
	}

	content := f.state.Content
	if content == nil {
		return pricing.Quote{}, ErrContentNotLoaded
	}
	if content.IsFree() {
		return pricing.Quote{}, validationError(apierrors.ErrCodeValidationFailed, "contentId", "this title is free to watch")
	}
	if kind == access.SeriesAccess {
		if !content.IsSeries() {
			return pricing.Quote{}, validationError(apierrors.ErrCodeInvalidField, "kind", "series access is only sold for series")
		}
		if strings.TrimSpace(sel.Period) == "" {
			return pricing.Quote{}, validationError(apierrors.ErrCodeMissingSelection, "period", "choose an access period")
		}
	}
	q, err := f.deps.Pricing.Price(*content, kind, sel.Period)
	switch {
	case errors.Is(err, pricing.ErrUnknownPeriod):
		return pricing.Quote{}, validationError(apierrors.ErrCodeInvalidField, "period", "unknown access period")
	case err != nil:
		return pricing.Quote{}, validationError(apierrors.ErrCodeInvalidAmount, "", "this option cannot be priced")
	}
	return q, nil
}

// Back returns from CONFIRMING to CHOOSING_OPTION.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFlowClosed
	}
	if f.state.Step != StepConfirming {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f.state.Step, StepChoosingOption)
	}
	f.moveLocked(StepChoosingOption)
	f.state.Selection = nil
	f.state.Quote = nil
	f.state.Error = nil
	f.state.StatusMessage = ""
	f.changedLocked()
	return nil
}

// Confirm validates the payer phone and submits the charge. A bad phone is
// returned as a *FlowError and leaves the flow in CONFIRMING without any
// network call. Gateway outcomes are never returned: they are reflected in
// the state, ending in SUCCEEDED or FAILED.
func (f *Flow) Confirm(ctx context.Context, phone string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	switch f.state.Step {
	case StepSubmitting, StepAwaitingGateway:
		f.mu.Unlock()
		return ErrSubmissionInFlight
	case StepConfirming:
	default:
		step := f.state.Step
		f.mu.Unlock()
		return transition(step, StepSubmitting)
	}

	normalized, err := NormalizePhone(f.cfg.PhoneCountry, phone)
	if err != nil {
		ferr := validationError(apierrors.ErrCodeInvalidPhone, "phone", "enter a valid mobile-money number, e.g. 078XXXXXXX")
		f.state.Error = ferr
		f.changedLocked()
		f.mu.Unlock()
		return ferr
	}

	quote := f.state.Quote
	req := PurchaseRequest{
		ContentID:  f.state.ContentID,
		Kind:       quote.Kind,
		Amount:     quote.Amount.Atomic,
		Currency:   quote.Amount.Asset.Code,
		PayerPhone: normalized,
		Period:     quote.Period,
		Plan:       quote.Plan,
	}
	if req.Kind == access.SubscriptionUpgrade {
		req.ContentID = ""
	}
	key := idempotency.Purchase{
		UserID:    f.viewer.UserID,
		ContentID: req.ContentID,
		Kind:      req.Kind,
		Period:    req.Period,
		Plan:      req.Plan,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Phone:     req.PayerPhone,
	}.Key()

	f.moveLocked(StepSubmitting)
	f.state.Error = nil
	f.state.StatusMessage = "Sending payment request"
	f.startedAt = f.now()
	gen := f.gen
	f.changedLocked()
	f.mu.Unlock()

	f.deps.Metrics.ObserveSubmission(string(req.Kind))
	res, key, err := f.submit(ctx, req, key)
	f.handleSubmission(gen, req, key, res, err)
	return nil
}

// submit sends req unless the same logical purchase is still pending at the
// gateway, in which case that transaction is resumed. Once an attempt has
// settled, either way, buying again is a new charge under a fresh key.
func (f *Flow) submit(ctx context.Context, req PurchaseRequest, key string) (gateway.SubmitResult, string, error) {
	for i := 0; i < maxReplayChain && f.deps.Idempotency != nil; i++ {
		prior, ok := loadSubmission(ctx, f.deps.Idempotency, key)
		if !ok {
			break
		}
		if !prior.Status.Terminal() {
			f.logger.Info().
				Str("transaction_id", prior.TransactionID).
				Str("status", string(prior.Status)).
				Msg("payment.resumed")
			return prior.result(), key, nil
		}
		key = idempotency.Rekey(key, prior.TransactionID)
	}

	if f.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.SubmitTimeout)
		defer cancel()
	}
	res, err := f.deps.Gateway.SubmitPayment(ctx, gateway.SubmitRequest{
		UserID:      f.viewer.UserID,
		ContentID:   req.ContentID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Currency:    req.Currency,
		PhoneNumber: req.PayerPhone,
		Period:      req.Period,
		Plan:        req.Plan,
	}, key)
	if err != nil {
		return gateway.SubmitResult{}, key, err
	}
	if res.Status == "" {
		res.Status = access.StatusPending
	}
	return res, key, nil
}

func (f *Flow) handleSubmission(gen uint64, req PurchaseRequest, key string, res gateway.SubmitResult, err error) {
	if err != nil {
		f.rejectSubmission(gen, req, err)
		return
	}

	created := f.now().UTC()
	tx := Transaction{
		ID:            res.TransactionID,
		Request:       req,
		GatewayStatus: access.StatusPending,
		CreatedAt:     created,
	}

	// The charge exists whether or not the viewer is still here, so it is
	// always remembered and persisted. Settled results are persisted by settle.
	saveSubmission(context.Background(), f.deps.Idempotency, key, submission{TransactionID: res.TransactionID, Status: res.Status, Message: res.Message}, f.cfg.IdempotencyTTL)
	if !res.Status.Terminal() {
		f.persist(context.Background(), f.record(tx, StepAwaitingGateway, key))
	}

	f.logger.Info().
		Str("transaction_id", res.TransactionID).
		Str("kind", string(req.Kind)).
		Int64("amount", req.Amount).
		Str("currency", req.Currency).
		Str("status", string(res.Status)).
		Msg("payment.submitted")

	f.mu.Lock()
	if f.closed || f.gen != gen {
		f.mu.Unlock()
		return
	}
	f.idemKey = key
	f.state.Transaction = &tx
	f.state.PollCount = 0
	f.state.SupportReference = tx.ID
	hook := f.txHook

	var o *outcome
	switch res.Status {
	case access.StatusSuccessful:
		o = &outcome{status: access.StatusSuccessful}
	case access.StatusFailed:
		o = &outcome{status: access.StatusFailed, code: apierrors.ErrCodeGatewayDeclined, reason: nonEmpty(res.Message, reasonDeclined), label: "declined"}
	}
	if o != nil {
		// Settled at submission; the step moves straight to the outcome.
		f.finalizing, f.finalStatus = true, o.status
	} else {
		f.moveLocked(StepAwaitingGateway)
		f.state.StatusMessage = "Approve the payment on your phone"
		f.startPollerLocked(gen, tx.ID, f.pollInterval(req.Kind))
	}
	f.changedLocked()
	f.mu.Unlock()

	if hook != nil {
		hook(tx.ID)
	}
	if o != nil {
		f.settle(context.Background(), gen, tx, key, *o)
	}
}

func (f *Flow) rejectSubmission(gen uint64, req PurchaseRequest, err error) {
	var gwErr *gateway.Error
	isGateway := errors.As(err, &gwErr)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.gen != gen {
		return
	}

	switch {
	case isGateway && gwErr.UserCorrectable():
		code := apierrors.ErrCodeSubmissionRejected
		if strings.Contains(strings.ToLower(gwErr.Field), "phone") || strings.Contains(strings.ToLower(gwErr.Code), "phone") || strings.Contains(strings.ToLower(gwErr.Code), "msisdn") {
			code = apierrors.ErrCodeInvalidPhone
		}
		f.moveLocked(StepConfirming)
		f.state.Error = &FlowError{Code: code, Field: "phone", Reason: gwErr.Reason()}
		f.state.StatusMessage = ""
		f.logger.Info().Str("code", gwErr.Code).Msg("payment.rejected_correctable")
		f.changedLocked()
		return
	case isGateway:
		f.failLocked(apierrors.ErrCodeSubmissionRejected, gwErr.Reason())
		f.deps.Metrics.ObserveOutcome(string(req.Kind), "rejected", f.now().Sub(f.startedAt), req.Amount, req.Currency)
		f.logger.Warn().Int("status", gwErr.StatusCode).Str("code", gwErr.Code).Msg("payment.rejected")
	default:
		f.failLocked(apierrors.ErrCodeGatewayError, reasonUnreachable)
		f.deps.Metrics.ObserveOutcome(string(req.Kind), "error", f.now().Sub(f.startedAt), req.Amount, req.Currency)
		f.logger.Error().Err(err).Msg("payment.submit_failed")
	}
	f.changedLocked()
}

// Deliver applies a confirmation received outside the poll, e.g. a gateway
// webhook. Updates arriving after the flow settled the transaction are
// ignored. Updates for other transactions, or for one the flow gave up on
// while the gateway still had it pending, return ErrStaleUpdate so the
// caller settles the stored record instead.
func (f *Flow) Deliver(ctx context.Context, update gateway.StatusUpdate) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	tx := f.state.Transaction
	if tx == nil || tx.ID != update.TransactionID {
		f.mu.Unlock()
		return ErrStaleUpdate
	}
	if f.finalizing || f.state.Step != StepAwaitingGateway {
		settled := tx.GatewayStatus.Terminal()
		if f.finalizing {
			settled = f.finalStatus.Terminal()
		}
		f.mu.Unlock()
		if settled || !update.Status.Terminal() {
			return nil
		}
		return ErrStaleUpdate
	}

	var o outcome
	switch update.Status {
	case access.StatusSuccessful:
		o = outcome{status: access.StatusSuccessful}
	case access.StatusFailed:
		o = outcome{status: access.StatusFailed, code: apierrors.ErrCodeGatewayDeclined, reason: nonEmpty(update.Reason, reasonDeclined), label: "declined"}
	default:
		f.mu.Unlock()
		return nil
	}
	f.finalizing, f.finalStatus = true, o.status
	f.stopPollerLocked()
	gen, snap, key := f.gen, *tx, f.idemKey
	f.mu.Unlock()

	f.logger.Info().Str("transaction_id", update.TransactionID).Str("event_id", update.EventID).Msg("payment.confirmation_delivered")
	f.settle(ctx, gen, snap, key, o)
	return nil
}

// Retry discards a finished attempt and returns to CHOOSING_OPTION. The
// loaded content and the support reference are kept.
func (f *Flow) Retry() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFlowClosed
	}
	if !f.state.Step.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f.state.Step, StepChoosingOption)
	}
	f.discardLocked()
	return nil
}

// Abandon cancels whatever the flow is doing, including a running poll, and
// returns to CHOOSING_OPTION. A charge already submitted is still settled by
// the Registry if the gateway confirms it later.
func (f *Flow) Abandon() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFlowClosed
	}
	if f.state.Step == StepChoosingOption {
		return nil
	}
	if tx := f.state.Transaction; tx != nil && f.state.Step == StepAwaitingGateway {
		f.logger.Info().Str("transaction_id", tx.ID).Int("poll_attempts", tx.PollAttempts).Msg("payment.abandoned")
	}
	f.discardLocked()
	return nil
}

func (f *Flow) discardLocked() {
	if err := transition(f.state.Step, StepChoosingOption); err != nil {
		return
	}
	f.gen++
	f.stopPollerLocked()
	f.finalizing = false
	f.idemKey = ""
	f.moveLocked(StepChoosingOption)
	f.state.Transaction = nil
	f.state.PollCount = 0
	f.state.Selection = nil
	f.state.Quote = nil
	f.state.Error = nil
	f.state.StatusMessage = ""
	select {
	case <-f.settled:
		f.settled = make(chan struct{})
	default:
	}
	f.changedLocked()
}

// Wait blocks until the current attempt reaches SUCCEEDED or FAILED.
func (f *Flow) Wait(ctx context.Context) (State, error) {
	for {
		f.mu.Lock()
		st := f.snapshotLocked()
		closed := f.closed
		settled := f.settled
		f.mu.Unlock()

		if closed {
			return st, ErrFlowClosed
		}
		if st.Step.Terminal() {
			return st, nil
		}
		select {
		case <-settled:
		case <-f.closedCh:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers skip intermediate states. The channel is closed by cancel or Close.
func (f *Flow) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	ch <- f.snapshotLocked()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

// Close tears the flow down: the poll is cancelled and awaited, subscribers
// are closed and no callback fires afterwards.
func (f *Flow) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.gen++
	done := f.pollDone
	f.stopPollerLocked()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
	close(f.closedCh)
	f.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

func (f *Flow) failLocked(code apierrors.ErrorCode, reason string) {
	f.stopPollerLocked()
	f.moveLocked(StepFailed)
	f.state.Error = &FlowError{Code: code, Reason: reason}
	f.state.StatusMessage = "Payment failed"
	if tx := f.state.Transaction; tx != nil {
		tx.Reason = reason
	}
	f.closeSettledLocked()
}

// moveLocked changes the step through the transition table. An illegal move
// is a programming error: it is logged and the step is left unchanged.
func (f *Flow) moveLocked(to Step) bool {
	if err := transition(f.state.Step, to); err != nil {
		f.logger.Error().Err(err).Msg("payment.illegal_transition")
		return false
	}
	f.state.Step = to
	return true
}

func (f *Flow) closeSettledLocked() {
	select {
	case <-f.settled:
	default:
		close(f.settled)
	}
}

// changedLocked stamps the state and pushes it to subscribers.
func (f *Flow) changedLocked() {
	f.state.UpdatedAt = f.now()
	st := f.snapshotLocked()
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (f *Flow) snapshotLocked() State {
	st := f.state
	if st.Content != nil {
		c := st.Content.Clone()
		st.Content = &c
	}
	if st.Selection != nil {
		s := *st.Selection
		st.Selection = &s
	}
	if st.Quote != nil {
		q := *st.Quote
		st.Quote = &q
	}
	if st.Error != nil {
		e := *st.Error
		st.Error = &e
	}
	if st.Transaction != nil {
		tx := *st.Transaction
		if tx.Entitlement != nil {
			ent := *tx.Entitlement
			tx.Entitlement = &ent
		}
		st.Transaction = &tx
	}
	return st
}

func (f *Flow) pollInterval(kind access.Kind) time.Duration {
	if kind == access.SubscriptionUpgrade {
		return f.cfg.UpgradePollInterval
	}
	return f.cfg.PurchasePollInterval
}

func (f *Flow) record(tx Transaction, step Step, key string) storage.TransactionRecord {
	return storage.TransactionRecord{
		ID:             tx.ID,
		UserID:         f.viewer.UserID,
		ContentID:      tx.Request.ContentID,
		Kind:           tx.Request.Kind,
		Amount:         tx.Request.Amount,
		Currency:       tx.Request.Currency,
		Period:         tx.Request.Period,
		Plan:           tx.Request.Plan,
		PayerPhone:     tx.Request.PayerPhone,
		Status:         tx.GatewayStatus,
		Step:           string(step),
		PollAttempts:   tx.PollAttempts,
		Reason:         tx.Reason,
		IdempotencyKey: key,
		CreatedAt:      tx.CreatedAt,
		SettledAt:      tx.SettledAt,
	}
}

func (f *Flow) persist(ctx context.Context, rec storage.TransactionRecord) {
	if f.deps.Store == nil {
		return
	}
	err := f.deps.Store.SaveTransaction(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrSettled):
		// A webhook settled the record first; its outcome stands.
		f.logger.Info().Str("transaction_id", rec.ID).Msg("payment.already_settled")
	default:
		f.logger.Error().Err(err).Str("transaction_id", rec.ID).Msg("payment.persist_failed")
	}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
