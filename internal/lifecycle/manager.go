package lifecycle

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Manager closes the storefront's long-lived resources (stores, the flow
// and guest registries, the HTTP server) in reverse order of registration.
type Manager struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	resources []resource
	closed    bool
	closeErr  error
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager returns an empty manager that reports close failures to logger.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a resource. Registering after Close closes it immediately.
func (m *Manager) Register(name string, closer io.Closer) {
	m.mu.Lock()
	if !m.closed {
		m.resources = append(m.resources, resource{name: name, closer: closer})
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.closeOne(resource{name: name, closer: closer})
}

// RegisterFunc registers a cleanup function.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes every resource, last registered first, and returns the first
// error. Later calls return the same result without closing anything again.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return m.closeErr
	}
	m.closed = true

	for i := len(m.resources) - 1; i >= 0; i-- {
		if err := m.closeOne(m.resources[i]); err != nil && m.closeErr == nil {
			m.closeErr = err
		}
	}
	m.resources = nil
	return m.closeErr
}

func (m *Manager) closeOne(res resource) error {
	if err := res.closer.Close(); err != nil {
		m.logger.Error().Err(err).Str("resource", res.name).Msg("lifecycle.close_failed")
		return err
	}
	m.logger.Debug().Str("resource", res.name).Msg("lifecycle.closed")
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
