package idempotency

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
)

const (
	// HeaderKey carries the client-chosen idempotency key.
	HeaderKey = "Idempotency-Key"
	// ReplayHeader marks a response served from the store.
	ReplayHeader = "X-Idempotency-Replay"

	// DefaultTTL matches how long the gateway honours its own keys.
	DefaultTTL = 24 * time.Hour
)

// responseWriter captures the status and body for caching.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) headers() map[string]string {
	out := make(map[string]string, len(rw.Header()))
	for key := range rw.Header() {
		out[key] = rw.Header().Get(key)
	}
	return out
}

// Middleware replays the first successful response for a repeated
// Idempotency-Key. Keys are scoped by method, path and scope(r), so one
// viewer's key cannot collide with another's. A request that arrives while
// the first one with the same key is still running is refused with 409.
func Middleware(store Store, ttl time.Duration, scope func(*http.Request) string) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var inFlight sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Method + ":" + r.URL.Path + ":" + rawKey
			if scope != nil {
				key = scope(r) + ":" + key
			}

			if cached, found := store.Get(r.Context(), key); found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			if _, busy := inFlight.LoadOrStore(key, struct{}{}); busy {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeSubmissionInFlight, "a request with this idempotency key is still being processed")
				return
			}
			defer inFlight.Delete(key)

			rw := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			// Failures are not cached so the client can correct and resend.
			if rw.statusCode >= 200 && rw.statusCode < 300 {
				_ = store.Set(r.Context(), key, &Response{
					StatusCode: rw.statusCode,
					Headers:    rw.headers(),
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				}, ttl)
			}
		})
	}
}
