package guest

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

// manual returns a 60s countdown driven only by explicit Tick calls.
func manual() Config {
	return Config{Limit: 60 * time.Second}
}

func TestCountdownFiresOnceAfterSixtyTicks(t *testing.T) {
	c := NewCountdown(manual(), nil)
	var fired int32
	c.Start(true, true, func() { atomic.AddInt32(&fired, 1) })

	for i := 0; i < 59; i++ {
		c.Tick()
	}
	if snap := c.Snapshot(); snap.ReachedLimit || snap.RemainingSeconds != 1 {
		t.Fatalf("after 59 ticks: %+v", snap)
	}

	c.Tick()
	for i := 0; i < 10; i++ {
		if c.Tick() {
			t.Fatal("countdown must not advance past the limit")
		}
	}

	snap := c.Snapshot()
	if !snap.ReachedLimit || snap.RemainingSeconds != 0 || snap.ElapsedSeconds != 60 {
		t.Errorf("expected frozen at zero, got %+v", snap)
	}
	if fired != 1 {
		t.Errorf("onLimitReached fired %d times, want 1", fired)
	}
}

func TestCountdownPauseDoesNotConsumeAllowance(t *testing.T) {
	c := NewCountdown(manual(), nil)
	var fired int32
	c.Start(true, true, func() { atomic.AddInt32(&fired, 1) })

	for i := 0; i < 59; i++ {
		c.Tick()
	}
	c.SetPlaying(false)
	// Wall-clock seconds pass while paused.
	for i := 0; i < 30; i++ {
		if c.Tick() {
			t.Fatal("paused countdown must not advance")
		}
	}
	if c.Snapshot().ReachedLimit {
		t.Fatal("limit reached while paused")
	}

	c.SetPlaying(true)
	c.Tick()
	if !c.Snapshot().ReachedLimit || fired != 1 {
		t.Errorf("limit should be reached on the 60th active tick, fired=%d", fired)
	}
}

func TestCountdownSkipsSignedInViewers(t *testing.T) {
	c := NewCountdown(manual(), nil)
	c.Start(false, true, nil)
	if c.Tick() {
		t.Error("signed-in viewers are not metered")
	}

	c.SetGuest(true)
	if !c.Tick() {
		t.Error("guest playback should be metered")
	}
	c.SetGuest(false)
	if c.Tick() {
		t.Error("signing in mid-playback stops metering")
	}
}

func TestCountdownReset(t *testing.T) {
	c := NewCountdown(Config{Limit: 3 * time.Second}, nil)
	var fired int32
	c.Start(true, true, func() { atomic.AddInt32(&fired, 1) })

	for i := 0; i < 3; i++ {
		c.Tick()
	}
	if !c.Snapshot().ReachedLimit {
		t.Fatal("expected limit reached")
	}

	c.Reset()
	snap := c.Snapshot()
	if snap.ReachedLimit || snap.RemainingSeconds != 3 {
		t.Fatalf("reset should restore the allowance, got %+v", snap)
	}
	for i := 0; i < 3; i++ {
		c.Tick()
	}
	if fired != 2 {
		t.Errorf("expected a fresh allowance to fire again, fired=%d", fired)
	}
}

func TestTrailerPreviewIsIndependent(t *testing.T) {
	trial := NewCountdown(manual(), nil)
	trial.Start(true, true, nil)
	preview := NewTrailerPreview("trailer-1", manual(), nil)
	preview.Start(false, true, nil)

	for i := 0; i < 10; i++ {
		preview.Tick()
	}
	if trial.Snapshot().ElapsedSeconds != 0 {
		t.Error("preview ticks must not consume the trial allowance")
	}
	snap := preview.Snapshot()
	if snap.Scope != ScopeTrailer || snap.TrailerID != "trailer-1" || snap.ElapsedSeconds != 10 {
		t.Errorf("unexpected preview snapshot %+v", snap)
	}

	other := NewTrailerPreview("trailer-1", manual(), nil)
	if other.Snapshot().ElapsedSeconds != 0 {
		t.Error("each trailer view gets its own allowance")
	}
}

func TestCountdownBackgroundTicker(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := NewCountdown(Config{Limit: 3 * time.Second, TickInterval: time.Millisecond}, m)

	reached := make(chan struct{})
	var fired int32
	c.Start(true, true, func() {
		if atomic.AddInt32(&fired, 1) == 1 {
			close(reached)
		}
	})

	select {
	case <-reached:
	case <-time.After(2 * time.Second):
		t.Fatal("limit never reached")
	}
	time.Sleep(10 * time.Millisecond)
	c.Stop()

	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
	if got := promtest.ToFloat64(m.GuestLimitsReachedTotal.WithLabelValues("trial")); got != 1 {
		t.Errorf("guest limit metric = %v, want 1", got)
	}
}

func TestStopPreventsCallback(t *testing.T) {
	c := NewCountdown(Config{Limit: 3 * time.Second, TickInterval: time.Millisecond}, nil)
	var fired int32
	c.Start(true, false, func() { atomic.AddInt32(&fired, 1) })
	c.Stop()

	c.SetPlaying(true)
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		c.Tick()
	}
	if fired != 0 {
		t.Errorf("callback fired %d times after Stop", fired)
	}
	c.Stop()
}

func TestStopFromCallback(t *testing.T) {
	c := NewCountdown(Config{Limit: time.Second, TickInterval: time.Millisecond}, nil)
	done := make(chan struct{})
	c.Start(true, true, func() {
		c.Stop()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop from inside the callback deadlocked")
	}
}

func TestCountdownConcurrentTicksFireOnce(t *testing.T) {
	c := NewCountdown(Config{Limit: 50 * time.Second}, nil)
	var fired int32
	c.Start(true, true, func() { atomic.AddInt32(&fired, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c.Tick()
			}
		}()
	}
	wg.Wait()

	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
	if c.Snapshot().ElapsedSeconds != 50 {
		t.Errorf("elapsed = %d, want 50", c.Snapshot().ElapsedSeconds)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(manual(), manual(), time.Hour, nil, zerolog.Nop())
	defer r.Close()

	id, c := r.StartTrial(true, true)
	c.Tick()
	got, err := r.Get(id)
	if err != nil || got.Snapshot().ElapsedSeconds != 1 {
		t.Fatalf("Get: %v %+v", err, got)
	}

	previewID, _ := r.StartTrailerPreview("trailer-1", true)
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
	if err := r.Remove(previewID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Get(previewID); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	now := time.Now()
	r.mu.Lock()
	r.now = func() time.Time { return now.Add(2 * time.Hour) }
	r.mu.Unlock()
	r.sweep()
	if r.Len() != 0 {
		t.Error("idle sessions should be swept")
	}
}
