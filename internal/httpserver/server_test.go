package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/catalog"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/entitlements"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/gateway"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/guest"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/idempotency"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/payment"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/pricing"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/ratelimit"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/storage"
)

const (
	testSecret   = "whsec_test"
	testAdminKey = "admin-key"
)

// stubGateway settles every submission with a fixed status.
type stubGateway struct {
	mu      sync.Mutex
	status  access.GatewayStatus
	submits int
}

func (g *stubGateway) SubmitPayment(_ context.Context, _ gateway.SubmitRequest, _ string) (gateway.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits++
	return gateway.SubmitResult{TransactionID: fmt.Sprintf("tx-%d", g.submits), Status: g.status}, nil
}

func (g *stubGateway) GetPaymentStatus(_ context.Context, _ string) (gateway.StatusResult, error) {
	return gateway.StatusResult{Status: access.StatusPending}, nil
}

func (g *stubGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits
}

func int64Ptr(v int64) *int64 { return &v }

type testEnv struct {
	router  http.Handler
	gw      *stubGateway
	store   *storage.MemoryStore
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, gw *stubGateway) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Gateway.WebhookSecret = testSecret
	cfg.Server.AdminMetricsAPIKey = testAdminKey
	cfg.Payment.IdempotencyTTL = config.Duration{Duration: time.Hour}

	cat := catalog.NewYAMLRepository(map[string]config.CatalogContent{
		"inkotanyi": {Title: "Inkotanyi", ContentType: "movie", ViewPrice: int64Ptr(500), DownloadPrice: int64Ptr(2000), Currency: "RWF"},
		"umuryango": {Title: "Umuryango", ContentType: "series", ViewPrice: int64Ptr(1000), Currency: "RWF", TotalEpisodes: 12},
		"short":     {Title: "Short film", ContentType: "movie", Price: int64Ptr(0), Currency: "RWF"},
	})
	calc, err := pricing.NewCalculator(pricing.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	store := storage.NewMemoryStore()
	idem := idempotency.NewMemoryStore()
	t.Cleanup(idem.Stop)
	m := metrics.New(prometheus.NewRegistry())

	resolver := entitlements.NewResolver(store, entitlements.DefaultConfig(), entitlements.Options{
		Catalog: cat,
		Metrics: m,
		Logger:  zerolog.Nop(),
	})
	flows := payment.NewRegistry(payment.Config{
		PurchasePollInterval: time.Millisecond,
		UpgradePollInterval:  time.Millisecond,
		MaxPolls:             5,
		MaxLookupFailures:    2,
		SubmitTimeout:        time.Second,
		IdempotencyTTL:       time.Hour,
		PhoneCountry:         "RW",
	}, payment.Deps{
		Gateway:     gw,
		Catalog:     cat,
		Pricing:     calc,
		Store:       store,
		Idempotency: idem,
		Grantor:     resolver,
		Metrics:     m,
		Logger:      zerolog.Nop(),
	}, time.Hour)
	t.Cleanup(func() { flows.Close() })

	guests := guest.NewRegistry(guest.Config{Limit: time.Minute}, guest.Config{Limit: time.Minute}, time.Hour, m, zerolog.Nop())
	t.Cleanup(func() { guests.Close() })

	router := chi.NewRouter()
	ConfigureRouter(router, cfg, Services{
		Flows:       flows,
		Resolver:    resolver,
		Catalog:     cat,
		Pricing:     calc,
		Guests:      guests,
		Idempotency: idem,
		Metrics:     m,
	}, zerolog.Nop())

	return &testEnv{router: router, gw: gw, store: store, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, viewer string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if viewer != "" {
		req.Header.Set(ratelimit.ViewerHeader, viewer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

// selectedFlow creates a flow for user on contentID and selects kind.
func (e *testEnv) selectedFlow(t *testing.T, user, contentID string, kind access.Kind) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/flows", user, map[string]string{"contentId": contentID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create flow: %d %s", rec.Code, rec.Body.String())
	}
	st := decode[payment.State](t, rec)
	rec = e.do(t, http.MethodPost, "/v1/flows/"+st.FlowID+"/select", user, map[string]string{"kind": string(kind)})
	if rec.Code != http.StatusOK {
		t.Fatalf("select: %d %s", rec.Code, rec.Body.String())
	}
	return st.FlowID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[healthResponse](t, rec)
	if got.Status != "ok" || got.ServerTime.IsZero() {
		t.Errorf("health = %+v", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("security headers missing: %v", rec.Header())
	}
}

func TestMetricsRequiresAdminKey(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})

	if rec := env.do(t, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/metrics", "", nil, "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/metrics", "", nil, "Authorization", "Bearer "+testAdminKey); rec.Code != http.StatusOK {
		t.Errorf("admin key: status = %d, want 200", rec.Code)
	}
}

func TestContentQuotes(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})

	tests := []struct {
		name      string
		contentID string
		wantCode  int
		wantFree  bool
		wantCount int
	}{
		{"movie", "inkotanyi", http.StatusOK, false, 2},
		{"series", "umuryango", http.StatusOK, false, len(pricing.DefaultConfig().Tiers)},
		{"free", "short", http.StatusOK, true, 0},
		{"unknown", "missing", http.StatusNotFound, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/v1/contents/"+tt.contentID+"/quotes", "", nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				return
			}
			got := decode[quotesResponse](t, rec)
			if got.Free != tt.wantFree || len(got.Quotes) != tt.wantCount {
				t.Errorf("free=%v quotes=%d, want free=%v quotes=%d", got.Free, len(got.Quotes), tt.wantFree, tt.wantCount)
			}
		})
	}
}

func TestAuthorizeRoutes(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})

	tests := []struct {
		name      string
		viewer    string
		path      string
		wantCode  int
		wantAllow bool
		wantRoute entitlements.Route
	}{
		{"guest stream uses trial", "", "/v1/access/inkotanyi", http.StatusOK, true, entitlements.RouteGuestTrial},
		{"guest download signs in", "", "/v1/access/inkotanyi?action=download", http.StatusOK, false, entitlements.RouteSignIn},
		{"viewer without grant purchases", "user-1", "/v1/access/inkotanyi", http.StatusOK, false, entitlements.RoutePurchase},
		{"free title", "user-1", "/v1/access/short", http.StatusOK, true, entitlements.RouteNone},
		{"series browse on movie", "user-1", "/v1/access/inkotanyi?action=browseSeries", http.StatusBadRequest, false, ""},
		{"unknown action", "user-1", "/v1/access/inkotanyi?action=rent", http.StatusBadRequest, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, tt.viewer, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				return
			}
			d := decode[entitlements.Decision](t, rec)
			if d.Allowed != tt.wantAllow || d.Route != tt.wantRoute {
				t.Errorf("decision = %+v", d)
			}
		})
	}
}

func TestPurchaseGrantsAccess(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusSuccessful})
	id := env.selectedFlow(t, "user-1", "inkotanyi", access.Watch)

	rec := env.do(t, http.MethodPost, "/v1/flows/"+id+"/confirm", "user-1", map[string]string{"phone": "0788123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body.String())
	}
	if st := decode[payment.State](t, rec); st.Step != payment.StepSucceeded {
		t.Fatalf("step = %s, want SUCCEEDED", st.Step)
	}

	rec = env.do(t, http.MethodGet, "/v1/access/inkotanyi", "user-1", nil)
	d := decode[entitlements.Decision](t, rec)
	if !d.Allowed || d.Kind != access.Watch || d.ExpiresAt == nil {
		t.Errorf("decision after purchase = %+v", d)
	}
}

func TestConfirmInvalidPhone(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusSuccessful})
	id := env.selectedFlow(t, "user-1", "inkotanyi", access.Watch)

	rec := env.do(t, http.MethodPost, "/v1/flows/"+id+"/confirm", "user-1", map[string]string{"phone": "12"})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_phone" {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body.String())
	}
	if env.gw.submitCount() != 0 {
		t.Error("invalid phone must not reach the gateway")
	}
}

func TestConfirmAwaitingGatewayIsAccepted(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})
	id := env.selectedFlow(t, "user-1", "inkotanyi", access.Watch)

	rec := env.do(t, http.MethodPost, "/v1/flows/"+id+"/confirm", "user-1", map[string]string{"phone": "0788123456"})
	// The poller may settle the attempt before the response is built.
	if rec.Code != http.StatusAccepted && rec.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/flows/"+id+"/wait?timeout=5s", "user-1", nil)
	st := decode[payment.State](t, rec)
	if st.Step != payment.StepFailed || st.Error == nil || st.Error.Code != "verification_timeout" {
		t.Errorf("after wait: step=%s error=%+v", st.Step, st.Error)
	}
}

func TestConfirmIdempotencyReplay(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusSuccessful})
	id := env.selectedFlow(t, "user-1", "inkotanyi", access.Watch)
	body := map[string]string{"phone": "0788123456"}

	first := env.do(t, http.MethodPost, "/v1/flows/"+id+"/confirm", "user-1", body, idempotency.HeaderKey, "k-1")
	if first.Code != http.StatusOK {
		t.Fatalf("first: %d %s", first.Code, first.Body.String())
	}
	second := env.do(t, http.MethodPost, "/v1/flows/"+id+"/confirm", "user-1", body, idempotency.HeaderKey, "k-1")
	if second.Code != http.StatusOK || second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("replay: %d headers=%v", second.Code, second.Header())
	}
	if env.gw.submitCount() != 1 {
		t.Errorf("submits = %d, want 1", env.gw.submitCount())
	}
}

func TestFlowOwnership(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})
	id := env.selectedFlow(t, "user-1", "inkotanyi", access.Watch)

	tests := []struct {
		name     string
		viewer   string
		wantCode int
		wantErr  string
	}{
		{"owner", "user-1", http.StatusOK, ""},
		{"other viewer", "user-2", http.StatusNotFound, "flow_not_found"},
		{"guest", "", http.StatusUnauthorized, "sign_in_required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/v1/flows/"+id, tt.viewer, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantErr != "" && errorCode(t, rec) != tt.wantErr {
				t.Errorf("code = %s, want %s", errorCode(t, rec), tt.wantErr)
			}
		})
	}
}

func TestFlowLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})

	if rec := env.do(t, http.MethodPost, "/v1/flows", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("guest create: %d, want 401", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/flows", "user-1", map[string]string{"contentId": "missing"}); rec.Code != http.StatusNotFound {
		t.Errorf("missing content: %d, want 404", rec.Code)
	}

	id := env.selectedFlow(t, "user-1", "inkotanyi", access.Download)

	rec := env.do(t, http.MethodPost, "/v1/flows/"+id+"/back", "user-1", nil)
	if st := decode[payment.State](t, rec); rec.Code != http.StatusOK || st.Step != payment.StepChoosingOption {
		t.Fatalf("back: %d step=%s", rec.Code, st.Step)
	}
	if rec := env.do(t, http.MethodPost, "/v1/flows/"+id+"/confirm", "user-1", map[string]string{"phone": "0788123456"}); rec.Code != http.StatusConflict {
		t.Errorf("confirm from SELECTING: %d, want 409", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/flows/"+id+"/select", "user-1", map[string]string{"kind": "rental"}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind: %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/flows/"+id+"/abandon", "user-1", nil); rec.Code != http.StatusOK {
		t.Errorf("abandon: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/v1/flows/"+id, "user-1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/flows/"+id, "user-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", rec.Code)
	}
}

func TestRefreshEntitlementsWithoutSource(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})
	if rec := env.do(t, http.MethodPost, "/v1/entitlements/refresh", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("guest: %d, want 401", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/entitlements/refresh", "user-1", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no source: %d, want 503", rec.Code)
	}
}

func TestGatewayWebhook(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})
	ctx := context.Background()
	if err := env.store.SaveTransaction(ctx, storage.TransactionRecord{
		ID:             "tx-orphan",
		UserID:         "user-1",
		ContentID:      "inkotanyi",
		Kind:           access.Download,
		Amount:         2000,
		Currency:       "RWF",
		Status:         access.StatusPending,
		Step:           string(payment.StepAwaitingGateway),
		IdempotencyKey: "key-orphan",
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}

	post := func(body, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook/gateway", strings.NewReader(body))
		if sig != "" {
			req.Header.Set(gateway.SignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("bad signature", func(t *testing.T) {
		body := `{"transactionId":"tx-orphan","status":"SUCCESSFUL"}`
		rec := post(body, gateway.Sign([]byte(body), "other"))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if got := promtest.ToFloat64(env.metrics.WebhooksTotal.WithLabelValues("rejected")); got != 1 {
			t.Errorf("rejected webhooks = %v, want 1", got)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		body := `{"transactionId":"tx-orphan","status":"MAYBE"}`
		if rec := post(body, gateway.Sign([]byte(body), testSecret)); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown transaction is acknowledged", func(t *testing.T) {
		body := `{"transactionId":"tx-unknown","status":"SUCCESSFUL"}`
		rec := post(body, gateway.Sign([]byte(body), testSecret))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got := decode[map[string]any](t, rec); got["applied"] != false {
			t.Errorf("body = %v", got)
		}
	})

	t.Run("settles orphaned purchase", func(t *testing.T) {
		body := `{"transactionId":"tx-orphan","status":"success","eventId":"evt-1"}`
		rec := post(body, "sha256="+gateway.Sign([]byte(body), testSecret))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		got, err := env.store.GetTransaction(ctx, "tx-orphan")
		if err != nil || got.Status != access.StatusSuccessful {
			t.Fatalf("record = %+v, %v", got, err)
		}
		d := decode[entitlements.Decision](t, env.do(t, http.MethodGet, "/v1/access/inkotanyi?action=download", "user-1", nil))
		if !d.Allowed || d.Kind != access.Download {
			t.Errorf("decision = %+v", d)
		}
	})
}

func TestGuestSessions(t *testing.T) {
	env := newTestEnv(t, &stubGateway{status: access.StatusPending})

	rec := env.do(t, http.MethodPost, "/v1/guest/sessions", "", map[string]any{"scope": "trial", "playing": true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	s := decode[sessionResponse](t, rec)
	if s.SessionID == "" || !s.IsGuest || !s.Playing || s.LimitSeconds != 60 {
		t.Fatalf("session = %+v", s)
	}

	rec = env.do(t, http.MethodPost, "/v1/guest/sessions/"+s.SessionID+"/playing", "", map[string]bool{"playing": false})
	if got := decode[sessionResponse](t, rec); rec.Code != http.StatusOK || got.Playing {
		t.Errorf("pause: %d %+v", rec.Code, got)
	}
	if rec := env.do(t, http.MethodPost, "/v1/guest/sessions/"+s.SessionID+"/reset", "", nil); rec.Code != http.StatusOK {
		t.Errorf("reset: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/v1/guest/sessions/"+s.SessionID, "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("stop: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/guest/sessions/"+s.SessionID, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after stop: %d", rec.Code)
	}

	tests := []struct {
		name   string
		viewer string
		body   map[string]any
		want   int
	}{
		{"trailer for guest", "", map[string]any{"scope": "trailer", "trailerId": "tr-1"}, http.StatusCreated},
		{"trailer without id", "", map[string]any{"scope": "trailer"}, http.StatusBadRequest},
		{"trailer for signed-in viewer", "user-1", map[string]any{"scope": "trailer", "trailerId": "tr-1"}, http.StatusBadRequest},
		{"unknown scope", "", map[string]any{"scope": "binge"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, "/v1/guest/sessions", tt.viewer, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
