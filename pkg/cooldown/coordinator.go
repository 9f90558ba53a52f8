package cooldown

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RetryBuffer is added to the remaining cooldown before a scheduled retry.
const RetryBuffer = time.Second

// State is the coordinator's position in its fetch lifecycle.
type State int

const (
	Idle State = iota
	CachedServing
	Fetching
	CooldownWaiting
)

func (s State) String() string {
	switch s {
	case CachedServing:
		return "cached-serving"
	case Fetching:
		return "fetching"
	case CooldownWaiting:
		return "cooldown-waiting"
	}
	return "idle"
}

// Timer is the handle of a scheduled retry.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through SystemAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// SystemAfterFunc schedules with the runtime timer.
func SystemAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FetchFunc performs the expensive fetch. It should honour ctx cancellation.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options configures a Coordinator. Every callback is optional and is
// never invoked with the coordinator's lock held.
type Options[T any] struct {
	AfterFunc   AfterFunc
	RetryBuffer time.Duration
	Logger      *slog.Logger

	// OnData receives cached data (stale=true) and fresh results (stale=false).
	OnData func(value T, stale bool)
	// OnCountdown receives the wait before a scheduled retry.
	OnCountdown func(wait time.Duration)
	// OnError receives upstream failures that were not recovered from cache.
	OnError func(err error)
}

// Outcome describes what a Request did.
type Outcome[T any] struct {
	Value    T
	HasValue bool
	// Stale is set when Value came from cache rather than this fetch.
	Stale bool
	// Fetched is set when the fetch ran and its result was applied.
	Fetched bool
	// RetryIn is the delay of the retry scheduled by this request, if any.
	RetryIn time.Duration
	Err     error
}

// Coordinator serves cached data, decides through its Gate whether a fetch
// may run, keeps at most one fetch in flight and schedules retries when a
// refused request has nothing cached to show.
type Coordinator[T any] struct {
	gate   *Gate
	after  AfterFunc
	buffer time.Duration
	logger *slog.Logger
	opts   Options[T]

	mu         sync.Mutex
	state      State
	cache      T
	hasCache   bool
	cachedAt   time.Time
	generation uint64
	cancel     context.CancelFunc
	retry      Timer
}

// NewCoordinator wraps gate.
func NewCoordinator[T any](gate *Gate, opts Options[T]) *Coordinator[T] {
	after := opts.AfterFunc
	if after == nil {
		after = SystemAfterFunc
	}
	buffer := opts.RetryBuffer
	if buffer <= 0 {
		buffer = RetryBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator[T]{gate: gate, after: after, buffer: buffer, logger: logger, opts: opts}
}

// Gate returns the underlying gate.
func (c *Coordinator[T]) Gate() *Gate { return c.gate }

// State returns the current lifecycle state.
func (c *Coordinator[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cached returns the cached value and when it was stored.
func (c *Coordinator[T]) Cached() (T, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache, c.cachedAt, c.hasCache
}

// Invalidate drops the cached value without touching the gate.
func (c *Coordinator[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.cache = zero
	c.hasCache = false
	c.cachedAt = time.Time{}
	if c.state == CachedServing {
		c.state = Idle
	}
}

// Put replaces the cached value without touching the gate. It is used to
// publish locally recomputed data between fetches.
func (c *Coordinator[T]) Put(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = value
	c.hasCache = true
	c.cachedAt = c.gate.clock.Now()
	if c.state == Idle {
		c.state = CachedServing
	}
}

// Request runs one fetch cycle. Any in-flight fetch and pending retry are
// cancelled first. A superseded fetch has its result discarded; it answers
// with the cache marked stale, or ErrSuperseded when there is none.
func (c *Coordinator[T]) Request(ctx context.Context, fetch FetchFunc[T]) Outcome[T] {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.stopLocked()
	cached, hasCache := c.cache, c.hasCache
	c.mu.Unlock()

	if hasCache {
		c.emitData(cached, true)
	}

	if remaining := c.gate.TimeUntilNextFetch(); remaining > 0 {
		return c.refuse(gen, fetch, remaining, &RefusedError{Remaining: remaining})
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.generation != gen {
		out := c.supersededLocked()
		c.mu.Unlock()
		cancel()
		return out
	}
	c.state = Fetching
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Debug("cooldown fetch started", "key", c.gate.Key(), "generation", gen)
	value, err := fetch(fetchCtx)
	cancel()

	c.mu.Lock()
	if c.generation != gen {
		out := c.supersededLocked()
		c.mu.Unlock()
		c.logger.Debug("cooldown fetch superseded", "key", c.gate.Key(), "generation", gen)
		return out
	}
	c.cancel = nil

	if err != nil {
		c.restoreStateLocked()
		c.mu.Unlock()
		var limited *RateLimitError
		if errors.As(err, &limited) {
			wait := limited.RetryAfter
			if wait <= 0 {
				wait = c.gate.TimeUntilNextFetch()
			}
			if wait <= 0 {
				wait = c.gate.Window()
			}
			return c.refuse(gen, fetch, wait, err)
		}
		c.logger.Warn("cooldown fetch failed", "key", c.gate.Key(), "err", err)
		if hasCache {
			return Outcome[T]{Value: cached, HasValue: true, Stale: true, Err: err}
		}
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
		return Outcome[T]{Err: err}
	}

	// Cache and timestamp change in one locked transition.
	c.cache = value
	c.hasCache = true
	c.cachedAt = c.gate.clock.Now()
	c.state = Idle
	recordErr := c.gate.RecordFetchSuccess()
	c.mu.Unlock()

	if recordErr != nil {
		c.logger.Warn("cooldown timestamp not persisted", "key", c.gate.Key(), "err", recordErr)
	}
	c.emitData(value, false)
	return Outcome[T]{Value: value, HasValue: true, Fetched: true}
}

// Stop cancels any in-flight fetch and pending retry.
func (c *Coordinator[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.stopLocked()
	c.restoreStateLocked()
}

// refuse serves the cache when there is one; otherwise it schedules a
// retry after wait plus the buffer and reports the countdown.
func (c *Coordinator[T]) refuse(gen uint64, fetch FetchFunc[T], wait time.Duration, cause error) Outcome[T] {
	c.mu.Lock()
	if c.generation != gen {
		out := c.supersededLocked()
		c.mu.Unlock()
		return out
	}
	if c.hasCache {
		c.state = CachedServing
		value := c.cache
		c.mu.Unlock()
		return Outcome[T]{Value: value, HasValue: true, Stale: true}
	}
	delay := wait + c.buffer
	c.state = CooldownWaiting
	c.retry = c.after(delay, func() {
		c.logger.Debug("cooldown retry firing", "key", c.gate.Key())
		c.Request(context.Background(), fetch)
	})
	c.mu.Unlock()

	c.logger.Info("fetch refused, retry scheduled", "key", c.gate.Key(), "retry_in", delay)
	if c.opts.OnCountdown != nil {
		c.opts.OnCountdown(delay)
	}
	return Outcome[T]{RetryIn: delay, Err: cause}
}

// supersededLocked is the answer for a request overtaken by a newer one:
// the current cache as stale data, or ErrSuperseded when nothing is cached.
func (c *Coordinator[T]) supersededLocked() Outcome[T] {
	if c.hasCache {
		return Outcome[T]{Value: c.cache, HasValue: true, Stale: true}
	}
	return Outcome[T]{Err: ErrSuperseded}
}

func (c *Coordinator[T]) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Coordinator[T]) restoreStateLocked() {
	if c.hasCache {
		c.state = CachedServing
	} else {
		c.state = Idle
	}
}

func (c *Coordinator[T]) emitData(value T, stale bool) {
	if c.opts.OnData != nil {
		c.opts.OnData(value, stale)
	}
}
