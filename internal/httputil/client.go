package httputil

import (
	"net/http"
	"time"
)

// NewClient creates a new HTTP client with the given timeout and pooled transport settings
// shared by the Transaction Store and catalog clients.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// NewClientWithHeaders returns a client that adds static headers (merchant ids,
// gateway routing keys) to every outgoing request without overriding ones already set.
func NewClientWithHeaders(timeout time.Duration, headers map[string]string) *http.Client {
	client := NewClient(timeout)
	if len(headers) == 0 {
		return client
	}
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	client.Transport = &headerTransport{base: client.Transport, headers: copied}
	return client
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request.
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		if clone.Header.Get(k) == "" {
			clone.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(clone)
}
