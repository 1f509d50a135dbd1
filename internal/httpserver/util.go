package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/ratelimit"
)

// maxBodyBytes bounds request bodies; every payload here is a few fields.
const maxBodyBytes = 64 << 10

// decodeJSON decodes a JSON request body into the destination struct.
// An empty body leaves dest untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeJSON writes an application/json response with status code and payload.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// viewerFrom reads the viewer the upstream auth proxy authenticated. A
// missing header is a guest.
func viewerFrom(r *http.Request) access.Viewer {
	return access.Viewer{UserID: strings.TrimSpace(r.Header.Get(ratelimit.ViewerHeader))}
}

// viewerScope keeps idempotency keys of different viewers apart.
func viewerScope(r *http.Request) string {
	if v := viewerFrom(r); !v.IsGuest() {
		return "viewer:" + v.UserID
	}
	return "guest"
}
