// Package ingest is the resilience layer between the chain and the
// notification sinks. It keeps a push subscription alive, falls back to
// polling during long outages, closes gaps after reconnects and drops
// duplicate transactions before they reach a sink.
package ingest

import (
	"context"
	"time"

	"github.com/marko911/presale-pulse/internal/purchase"
)

// ChainClient is the chain access the ingestion layer relies on.
type ChainClient interface {
	// Head returns the current chain head block number.
	Head(ctx context.Context) (uint64, error)
	// QueryRange returns purchases in [from, to], inclusive, ordered by block.
	QueryRange(ctx context.Context, from, to uint64) ([]purchase.Event, error)
	// Subscribe opens a new live subscription.
	Subscribe(ctx context.Context) (purchase.Stream, error)
}

// Sink receives each admitted purchase once. Errors are logged and the
// event is dropped.
type Sink interface {
	Deliver(ctx context.Context, ev purchase.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev purchase.Event) error

func (f SinkFunc) Deliver(ctx context.Context, ev purchase.Event) error {
	return f(ctx, ev)
}

// Config tunes timers and bounds.
type Config struct {
	// StartBlock, when non-zero, replays purchases from this block on the
	// first successful connect.
	StartBlock uint64

	PollGrace    time.Duration
	PollInterval time.Duration

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	LedgerCapacity int

	// CatchUpMaxRange splits catch-up into windows of at most this many
	// blocks. Zero fetches the whole gap in one query.
	CatchUpMaxRange uint64

	HeartbeatInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollGrace:         120 * time.Second,
		PollInterval:      60 * time.Second,
		ReconnectBase:     2 * time.Second,
		ReconnectMax:      60 * time.Second,
		LedgerCapacity:    DefaultLedgerCapacity,
		HeartbeatInterval: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollGrace <= 0 {
		c.PollGrace = d.PollGrace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = d.ReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = d.ReconnectMax
	}
	if c.LedgerCapacity <= 0 {
		c.LedgerCapacity = d.LedgerCapacity
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}
