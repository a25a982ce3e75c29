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

// pollHooks connects the poller to its owner.
type pollHooks struct {
	// whileDown runs f, serialized with channel transitions, only if the
	// push channel is still disconnected. It reports whether f ran.
	whileDown func(f func()) bool
	// tick runs one scan cycle.
	tick func()
}

// Poller is the standby pull scanner. It activates after a grace period
// if the push channel is still down and then scans on a fixed interval
// until disarmed.
type Poller struct {
	client   ChainClient
	grace    time.Duration
	interval time.Duration
	hooks    pollHooks
	logger   *slog.Logger

	activation *timerHandle
	ticker     *timerHandle

	mu      sync.Mutex
	running bool
}

func newPoller(client ChainClient, clock Clock, grace, interval time.Duration, hooks pollHooks, logger *slog.Logger) *Poller {
	return &Poller{
		client:     client,
		grace:      grace,
		interval:   interval,
		hooks:      hooks,
		logger:     logger.With("component", "standby-poller"),
		activation: newTimerHandle(clock),
		ticker:     newTimerHandle(clock),
	}
}

// Arm schedules activation after the grace period. Arming while already
// armed or running is a no-op.
func (p *Poller) Arm() {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if running {
		return
	}

	if p.activation.arm(p.grace, p.activate) {
		p.logger.Info("standby poller armed", "grace", p.grace)
	}
}

// Disarm cancels a pending activation and stops a running interval. Safe
// to call when neither is active.
func (p *Poller) Disarm() {
	cancelled := p.activation.stop()

	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.mu.Unlock()

	stopped := p.ticker.stop()

	if cancelled || wasRunning || stopped {
		p.logger.Info("standby poller disarmed", "was_running", wasRunning)
	}
}

// Armed reports whether activation is pending.
func (p *Poller) Armed() bool {
	return p.activation.armed()
}

// Running reports whether the interval is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) activate() {
	if !p.hooks.whileDown(p.start) {
		p.logger.Info("push channel recovered during grace period, poller not started")
	}
}

func (p *Poller) start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.logger.Warn("push channel still down, standby polling active", "interval", p.interval)
	p.ticker.arm(p.interval, p.fire)
}

func (p *Poller) fire() {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}

	p.hooks.tick()

	p.mu.Lock()
	running = p.running
	p.mu.Unlock()
	if running {
		p.ticker.arm(p.interval, p.fire)
	}
}

// scan pulls (LastKnownBlock, head] and forwards admitted events. The
// watermark moves to head even when nothing was found; on query failure it
// is left untouched. The caller must hold the coordinator lock.
func (p *Poller) scan(ctx context.Context, st *State, fw *forwarder) error {
	head, err := p.client.Head(ctx)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("head", string(chain.Classify(err))).Inc()
		metrics.PollCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("poll head: %w", err)
	}

	if head <= st.LastKnownBlock {
		metrics.PollCycles.WithLabelValues("idle").Inc()
		p.logger.Debug("no new blocks", "head", head, "last_known", st.LastKnownBlock)
		return nil
	}

	from := st.LastKnownBlock + 1
	events, err := p.client.QueryRange(ctx, from, head)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("range", string(chain.Classify(err))).Inc()
		metrics.PollCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("poll range %d-%d: %w", from, head, err)
	}

	admitted := fw.forwardAll(ctx, events, purchase.SourcePoll)
	st.advance(head)

	metrics.PollCycles.WithLabelValues("scanned").Inc()
	p.logger.Info("standby poll scanned blocks",
		"from", from,
		"to", head,
		"found", len(events),
		"delivered", admitted,
	)
	return nil
}
