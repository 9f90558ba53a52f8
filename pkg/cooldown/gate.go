// Package cooldown decides when an expensive market data refresh may run.
//
// A Gate answers "may we fetch now" from the timestamp of the last
// successful fetch, kept in a durable Store. A Coordinator wraps a Gate
// with a cache, single-flight cancellation and retry scheduling.
package cooldown

import (
	"fmt"
	"time"
)

// Standard windows.
const (
	DefaultWindow     = 10 * time.Second
	BulkRefreshWindow = 10 * time.Minute
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Store persists the last successful fetch time per key. It must survive
// process restarts.
type Store interface {
	Get(key string) (time.Time, bool, error)
	Set(key string, t time.Time) error
}

// Gate enforces a minimum interval between successful fetches.
type Gate struct {
	key    string
	window time.Duration
	store  Store
	clock  Clock
}

// NewGate creates a gate for key. A nil clock means SystemClock and a
// non-positive window means DefaultWindow.
func NewGate(key string, window time.Duration, store Store, clock Clock) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = SystemClock
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Gate{key: key, window: window, store: store, clock: clock}
}

// Key returns the store key of the gate.
func (g *Gate) Key() string { return g.key }

// Window returns the configured cooldown window.
func (g *Gate) Window() time.Duration { return g.window }

// LastFetch returns the time of the last successful fetch. A store
// failure reads as no previous fetch, so the gate fails open.
func (g *Gate) LastFetch() (time.Time, bool) {
	t, ok, err := g.store.Get(g.key)
	if err != nil || !ok {
		return time.Time{}, false
	}
	return t, true
}

// CanFetchNow reports whether the window has elapsed since the last success.
func (g *Gate) CanFetchNow() bool {
	return g.TimeUntilNextFetch() == 0
}

// TimeUntilNextFetch returns how long until CanFetchNow becomes true, or 0.
func (g *Gate) TimeUntilNextFetch() time.Duration {
	last, ok := g.LastFetch()
	if !ok {
		return 0
	}
	elapsed := g.clock.Now().Sub(last)
	if elapsed >= g.window {
		return 0
	}
	// A timestamp in the future (clock moved back) still waits at most one window.
	if elapsed < 0 {
		return g.window
	}
	return g.window - elapsed
}

// RecordFetchSuccess stamps the current time as the last successful fetch.
func (g *Gate) RecordFetchSuccess() error {
	if err := g.store.Set(g.key, g.clock.Now()); err != nil {
		return fmt.Errorf("record fetch for %s: %w", g.key, err)
	}
	return nil
}

// Reset clears the cooldown by stamping a time one window in the past.
func (g *Gate) Reset() error {
	return g.store.Set(g.key, g.clock.Now().Add(-g.window))
}
