// Package guest meters what an unauthenticated viewer may watch: a playback
// trial allowance per session and a preview allowance per trailer view.
package guest

import (
	"sync"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
)

// Scope labels what a countdown meters.
type Scope string

const (
	ScopeTrial   Scope = "trial"
	ScopeTrailer Scope = "trailer"
)

// Config sizes a countdown. A zero TickInterval starts no background ticker;
// the owner drives the countdown by calling Tick.
type Config struct {
	Limit        time.Duration
	TickInterval time.Duration
}

// DefaultConfig is the 60 second allowance ticking once a second.
func DefaultConfig() Config {
	return Config{Limit: 60 * time.Second, TickInterval: time.Second}
}

// ConfigsFromApp returns the trial and trailer preview configurations.
func ConfigsFromApp(cfg config.GuestConfig) (trial, trailer Config) {
	trial, trailer = DefaultConfig(), DefaultConfig()
	if cfg.TrialLimit.Duration > 0 {
		trial.Limit = cfg.TrialLimit.Duration
	}
	if cfg.TrailerPreviewLimit.Duration > 0 {
		trailer.Limit = cfg.TrailerPreviewLimit.Duration
	}
	if cfg.TickInterval.Duration > 0 {
		trial.TickInterval = cfg.TickInterval.Duration
		trailer.TickInterval = cfg.TickInterval.Duration
	}
	return trial, trailer
}

// Session is a point-in-time view of a countdown.
type Session struct {
	Scope            Scope  `json:"scope"`
	TrailerID        string `json:"trailerId,omitempty"`
	IsGuest          bool   `json:"isGuest"`
	Playing          bool   `json:"playing"`
	ElapsedSeconds   int    `json:"elapsedSeconds"`
	LimitSeconds     int    `json:"limitSeconds"`
	RemainingSeconds int    `json:"remainingSeconds"`
	ReachedLimit     bool   `json:"reachedLimit"`
}

// Countdown counts active seconds of guest playback. Each tick is one second
// of allowance regardless of wall time, so pauses never consume allowance.
type Countdown struct {
	mu        sync.Mutex
	scope     Scope
	trailerID string
	limit     int
	interval  time.Duration
	metrics   *metrics.Metrics

	isGuest bool
	playing bool
	elapsed int
	reached bool
	onLimit func()

	running bool
	firing  bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// NewCountdown creates the session trial countdown.
func NewCountdown(cfg Config, m *metrics.Metrics) *Countdown {
	return newCountdown(ScopeTrial, "", cfg, m)
}

// NewTrailerPreview creates an independent preview countdown for one view of
// trailerID. The viewer is always metered.
func NewTrailerPreview(trailerID string, cfg Config, m *metrics.Metrics) *Countdown {
	c := newCountdown(ScopeTrailer, trailerID, cfg, m)
	c.isGuest = true
	return c
}

func newCountdown(scope Scope, trailerID string, cfg Config, m *metrics.Metrics) *Countdown {
	limit := int(cfg.Limit / time.Second)
	if limit <= 0 {
		limit = 60
	}
	return &Countdown{
		scope:     scope,
		trailerID: trailerID,
		limit:     limit,
		interval:  cfg.TickInterval,
		metrics:   m,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start records the viewer state and the limit callback, and launches the
// background ticker when one is configured. Calling Start again only updates
// the state and callback.
func (c *Countdown) Start(isGuest, isPlaying bool, onLimitReached func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if c.scope == ScopeTrial {
		c.isGuest = isGuest
	}
	c.playing = isPlaying
	c.onLimit = onLimitReached

	if c.interval > 0 && !c.running {
		c.running = true
		go c.run()
	}
}

func (c *Countdown) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// SetPlaying pauses or resumes the countdown without resetting it.
func (c *Countdown) SetPlaying(playing bool) {
	c.mu.Lock()
	c.playing = playing
	c.mu.Unlock()
}

// SetGuest stops metering once the viewer signs in. Trailer previews ignore it.
func (c *Countdown) SetGuest(isGuest bool) {
	c.mu.Lock()
	if c.scope == ScopeTrial {
		c.isGuest = isGuest
	}
	c.mu.Unlock()
}

// Tick consumes one second of allowance when the viewer is a guest, playback
// is running and the limit has not been reached. It reports whether the
// countdown advanced. The limit callback fires exactly once, on the tick that
// exhausts the allowance.
func (c *Countdown) Tick() bool {
	c.mu.Lock()
	if c.stopped || c.reached || !c.isGuest || !c.playing {
		c.mu.Unlock()
		return false
	}
	c.elapsed++
	if c.elapsed < c.limit {
		c.mu.Unlock()
		return true
	}

	c.reached = true
	fn := c.onLimit
	c.firing = true
	c.mu.Unlock()

	c.metrics.ObserveGuestLimit(string(c.scope))
	if fn != nil {
		fn()
	}

	c.mu.Lock()
	c.firing = false
	c.mu.Unlock()
	return true
}

// Reset restores the full allowance and clears the reached flag.
func (c *Countdown) Reset() {
	c.mu.Lock()
	c.elapsed = 0
	c.reached = false
	c.mu.Unlock()
}

// Stop cancels the ticker. Once Stop returns no further limit callback
// starts. It is safe to call from inside the callback and more than once.
func (c *Countdown) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	running, firing := c.running, c.firing
	close(c.stop)
	c.mu.Unlock()

	// Waiting while the ticker goroutine runs our own callback would deadlock.
	if running && !firing {
		<-c.done
	}
}

// Snapshot returns the current state.
func (c *Countdown) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{
		Scope:            c.scope,
		TrailerID:        c.trailerID,
		IsGuest:          c.isGuest,
		Playing:          c.playing,
		ElapsedSeconds:   c.elapsed,
		LimitSeconds:     c.limit,
		RemainingSeconds: c.limit - c.elapsed,
		ReachedLimit:     c.reached,
	}
}
