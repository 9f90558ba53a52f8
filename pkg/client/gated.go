package client

import (
	"context"
	"log/slog"
	"time"

	"kabulog/pkg/cooldown"
)

type gatedConfig struct {
	window      time.Duration
	store       cooldown.Store
	clock       cooldown.Clock
	after       cooldown.AfterFunc
	logger      *slog.Logger
	onCountdown func(key string, wait time.Duration)
}

// update is what a scheduled retry delivers to a waiting caller.
type update[T any] struct {
	value T
	err   error
}

// gated pairs a coordinator with a one-slot channel carrying the latest
// fresh result or failure, so callers can wait for a scheduled retry.
type gated[T any] struct {
	coord   *cooldown.Coordinator[T]
	updates chan update[T]
	logger  *slog.Logger
}

func newGated[T any](key string, cfg gatedConfig) *gated[T] {
	g := &gated[T]{updates: make(chan update[T], 1), logger: cfg.logger}
	gate := cooldown.NewGate(key, cfg.window, cfg.store, cfg.clock)
	opts := cooldown.Options[T]{
		AfterFunc: cfg.after,
		Logger:    cfg.logger,
		OnData: func(value T, stale bool) {
			if !stale {
				g.publish(update[T]{value: value})
			}
		},
		OnError: func(err error) {
			g.publish(update[T]{err: err})
		},
	}
	if cfg.onCountdown != nil {
		opts.OnCountdown = func(wait time.Duration) { cfg.onCountdown(key, wait) }
	}
	g.coord = cooldown.NewCoordinator(gate, opts)
	return g
}

// publish replaces whatever is in the slot.
func (g *gated[T]) publish(u update[T]) {
	for {
		select {
		case g.updates <- u:
			return
		default:
		}
		select {
		case <-g.updates:
		default:
		}
	}
}

func (g *gated[T]) drain() {
	select {
	case <-g.updates:
	default:
	}
}

func (g *gated[T]) get(ctx context.Context, wait bool, fetch cooldown.FetchFunc[T]) (Result[T], error) {
	g.drain()
	out := g.coord.Request(ctx, fetch)
	if out.HasValue {
		if out.Err != nil {
			g.logger.Warn("serving cached data after fetch failure", "key", g.coord.Gate().Key(), "err", out.Err)
		}
		return Result[T]{Value: out.Value, Stale: out.Stale, Fetched: out.Fetched}, nil
	}
	if !wait || out.RetryIn <= 0 {
		return Result[T]{}, out.Err
	}

	select {
	case <-ctx.Done():
		g.coord.Stop()
		return Result[T]{}, ctx.Err()
	case u := <-g.updates:
		if u.err != nil {
			return Result[T]{}, u.err
		}
		return Result[T]{Value: u.value, Fetched: true}, nil
	}
}
