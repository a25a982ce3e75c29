package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marko911/presale-pulse/internal/chain"
	"github.com/marko911/presale-pulse/internal/metrics"
	"github.com/marko911/presale-pulse/internal/purchase"
)

// Option customizes a Coordinator or Watcher.
type Option func(*options)

type options struct {
	clock   Clock
	onFatal func(error)
}

// WithClock replaces the wall clock used for grace, poll and reconnect timers.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithFatalHandler replaces the default exit-after-grace fatal handler.
func WithFatalHandler(f func(error)) Option {
	return func(o *options) { o.onFatal = f }
}

func buildOptions(opts []Option) options {
	o := options{
		clock:   wallClock{},
		onFatal: ExitAfter(time.Second),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Coordinator owns the ingestion State and the dedup Ledger. Live events,
// channel transitions and poll cycles are serialized through its lock.
type Coordinator struct {
	cfg     Config
	client  ChainClient
	logger  *slog.Logger
	onFatal func(error)

	mu    sync.Mutex
	ctx   context.Context
	state State

	ledger  *Ledger
	fw      *forwarder
	poller  *Poller
	catchUp *CatchUp
}

// NewCoordinator wires the ledger, poller and catch-up fetcher around client and sink.
func NewCoordinator(cfg Config, client ChainClient, sink Sink, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	o := buildOptions(opts)

	c := &Coordinator{
		cfg:     cfg,
		client:  client,
		logger:  logger.With("component", "coordinator"),
		onFatal: o.onFatal,
		ctx:     context.Background(),
		ledger:  NewLedger(cfg.LedgerCapacity),
	}
	c.fw = &forwarder{ledger: c.ledger, sink: sink, logger: c.logger}
	c.catchUp = NewCatchUp(client, cfg.CatchUpMaxRange, logger)
	c.poller = newPoller(client, o.clock, cfg.PollGrace, cfg.PollInterval, pollHooks{
		whileDown: c.whileDown,
		tick:      c.pollTick,
	}, logger)
	return c
}

// Start seeds the watermark from the current chain head. ctx is used for
// queries triggered by timers until shutdown.
func (c *Coordinator) Start(ctx context.Context) error {
	head, err := c.client.Head(ctx)
	if err != nil {
		return fmt.Errorf("query initial head: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ctx = ctx
	c.state.advance(head)
	if c.cfg.StartBlock > 0 && c.cfg.StartBlock <= head {
		// replay history through the catch-up path on the first connect
		c.state.OutageStartBlock = c.cfg.StartBlock
	}
	c.publishLocked()

	c.logger.Info("ingestion state initialized",
		"last_known_block", c.state.LastKnownBlock,
		"replay_from", c.state.OutageStartBlock,
	)
	return nil
}

// OnLiveEvent dedups and forwards a push-channel event and advances the watermark.
func (c *Coordinator) OnLiveEvent(ctx context.Context, ev purchase.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fw.forward(ctx, ev, purchase.SourcePush)
	if c.state.advance(ev.BlockNumber) {
		metrics.Watermark.Set(float64(c.state.LastKnownBlock))
	}
}

// OnChannelUp disarms the poller and closes any outage gap.
func (c *Coordinator) OnChannelUp(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Connected = true
	c.state.ReconnectAttempts = 0
	c.poller.Disarm()

	if c.state.InOutage() {
		outageStart := c.state.OutageStartBlock
		if err := c.catchUp.Run(ctx, &c.state, c.fw); err != nil {
			c.logger.Warn("catch-up failed, gap kept for next reconnect",
				"outage_start", outageStart,
				"last_known_block", c.state.LastKnownBlock,
				"class", chain.Classify(err),
				"error", err,
			)
		}
	}
	c.publishLocked()
}

// OnChannelDown records where the outage began and arms the standby poller.
func (c *Coordinator) OnChannelDown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Connected = false
	if !c.state.InOutage() {
		c.state.OutageStartBlock = c.outageStartLocked(ctx)
		c.logger.Warn("push channel outage started", "outage_start", c.state.OutageStartBlock)
	}
	c.poller.Arm()
	c.publishLocked()
}

// NextReconnectAttempt increments and returns the reconnect attempt counter.
func (c *Coordinator) NextReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.ReconnectAttempts++
	return c.state.ReconnectAttempts
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Poller exposes the standby poller for status reporting.
func (c *Coordinator) Poller() *Poller {
	return c.poller
}

// Ledger exposes the dedup ledger for status reporting.
func (c *Coordinator) Ledger() *Ledger {
	return c.ledger
}

// Shutdown cancels the poller's timers.
func (c *Coordinator) Shutdown() {
	c.poller.Disarm()
}

// ReportStatus logs a heartbeat with the current state until ctx is done.
func (c *Coordinator) ReportStatus(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := c.Snapshot()
			c.logger.Info("watcher alive",
				"last_known_block", st.LastKnownBlock,
				"connected", st.Connected,
				"outage_start", st.OutageStartBlock,
				"reconnect_attempts", st.ReconnectAttempts,
				"poller_running", c.poller.Running(),
				"ledger_size", c.ledger.Len(),
			)
		}
	}
}

func (c *Coordinator) outageStartLocked(ctx context.Context) uint64 {
	head, err := c.client.Head(ctx)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("head", string(chain.Classify(err))).Inc()
		c.logger.Warn("head query failed, using watermark as outage start",
			"last_known_block", c.state.LastKnownBlock,
			"error", err,
		)
		return c.state.LastKnownBlock
	}
	return head
}

func (c *Coordinator) whileDown(f func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Connected {
		return false
	}
	f()
	return true
}

func (c *Coordinator) pollTick() {
	defer recoverFatal(c.logger, "standby poll", c.onFatal)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Connected {
		metrics.PollCycles.WithLabelValues("skipped").Inc()
		c.poller.Disarm()
		return
	}

	if err := c.poller.scan(c.ctx, &c.state, c.fw); err != nil {
		level := slog.LevelWarn
		if !chain.IsTransient(err) {
			level = slog.LevelError
		}
		c.logger.Log(c.ctx, level, "standby poll cycle abandoned",
			"last_known_block", c.state.LastKnownBlock,
			"class", chain.Classify(err),
			"error", err,
		)
	}
	c.publishLocked()
}

func (c *Coordinator) publishLocked() {
	metrics.Watermark.Set(float64(c.state.LastKnownBlock))
	metrics.OutageStartBlock.Set(float64(c.state.OutageStartBlock))
}
