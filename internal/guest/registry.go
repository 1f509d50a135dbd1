package guest

import (
	"errors"
	"sync"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("guest: session not found")

type entry struct {
	countdown *Countdown
	lastSeen  time.Time
}

// Registry owns the countdowns of guest playback sessions served over HTTP.
// Sessions idle for longer than the idle timeout are stopped and dropped.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	trial    Config
	trailer  Config
	idle     time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRegistry starts a registry whose sweeper runs every idle/2.
func NewRegistry(trial, trailer Config, idle time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Registry {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	r := &Registry{
		sessions: make(map[string]*entry),
		trial:    trial,
		trailer:  trailer,
		idle:     idle,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// StartTrial creates a trial session and returns its id.
func (r *Registry) StartTrial(isGuest, isPlaying bool) (string, *Countdown) {
	c := NewCountdown(r.trial, r.metrics)
	return r.add(c, isGuest, isPlaying)
}

// StartTrailerPreview creates a preview session for one view of trailerID.
func (r *Registry) StartTrailerPreview(trailerID string, isPlaying bool) (string, *Countdown) {
	c := NewTrailerPreview(trailerID, r.trailer, r.metrics)
	return r.add(c, true, isPlaying)
}

func (r *Registry) add(c *Countdown, isGuest, isPlaying bool) (string, *Countdown) {
	id := uuid.NewString()
	c.Start(isGuest, isPlaying, func() {
		r.logger.Info().
			Str("session_id", id).
			Str("scope", string(c.scope)).
			Msg("guest.limit_reached")
	})

	r.mu.Lock()
	r.sessions[id] = &entry{countdown: c, lastSeen: r.now()}
	r.mu.Unlock()
	return id, c
}

// Get returns the session's countdown and marks it seen.
func (r *Registry) Get(id string) (*Countdown, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e.countdown, nil
}

// Remove stops and drops a session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	e.countdown.Stop()
	return nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
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

func (r *Registry) sweep() {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var expired []*Countdown
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e.countdown)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, c := range expired {
		c.Stop()
	}
	if len(expired) > 0 {
		r.logger.Debug().Int("count", len(expired)).Msg("guest.sessions_expired")
	}
}

// Close stops the sweeper and every session.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.countdown.Stop()
	}
	return nil
}
