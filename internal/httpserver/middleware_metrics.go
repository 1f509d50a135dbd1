package httpserver

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/errors"
)

// adminMetricsAuth protects /metrics with a bearer key. Without a configured
// key the endpoint is open.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		expected := []byte("Bearer " + apiKey)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidSignature, "Invalid or missing admin API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
