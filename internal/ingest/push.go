package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marko911/presale-pulse/internal/metrics"
	"github.com/marko911/presale-pulse/internal/purchase"
)

// ChannelState is the push channel lifecycle state.
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnected
	StateClosed
	StateErrored
)

func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

var errStreamClosed = errors.New("push stream closed")

// channelObserver is notified of push channel activity. *Coordinator implements it.
type channelObserver interface {
	OnLiveEvent(ctx context.Context, ev purchase.Event)
	OnChannelUp(ctx context.Context)
	OnChannelDown(ctx context.Context)
	NextReconnectAttempt() int
}

// PushManager keeps the live subscription open, reconnecting with
// exponential backoff forever until stopped.
type PushManager struct {
	client   ChainClient
	observer channelObserver
	backoff  Backoff
	logger   *slog.Logger
	onFatal  func(error)

	reconnect *timerHandle

	mu      sync.Mutex
	ctx     context.Context
	state   ChannelState
	stream  purchase.Stream
	gen     uint64
	stopped bool
}

// NewPushManager creates a manager in the disconnected state.
func NewPushManager(client ChainClient, observer channelObserver, backoff Backoff, logger *slog.Logger, opts ...Option) *PushManager {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)

	return &PushManager{
		client:    client,
		observer:  observer,
		backoff:   backoff,
		logger:    logger.With("component", "push-manager"),
		onFatal:   o.onFatal,
		reconnect: newTimerHandle(o.clock),
		ctx:       context.Background(),
	}
}

// Start makes the first connection attempt. Failures are retried in the background.
func (m *PushManager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.connect()
}

// Stop cancels a pending reconnect and closes the subscription.
func (m *PushManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.teardownLocked()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.reconnect.stop()
	m.logger.Info("push channel stopped")
}

// State returns the current lifecycle state.
func (m *PushManager) State() ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *PushManager) connect() {
	defer recoverFatal(m.logger, "push connect", m.onFatal)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	// never keep two listeners alive
	m.teardownLocked()
	m.gen++
	gen := m.gen
	ctx := m.ctx
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	stream, err := m.client.Subscribe(ctx)
	if err != nil {
		m.fail(gen, StateErrored, fmt.Errorf("subscribe: %w", err))
		return
	}

	m.mu.Lock()
	if m.stopped || m.gen != gen {
		m.mu.Unlock()
		stream.Close()
		return
	}
	m.stream = stream
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info("push channel connected")
	m.observer.OnChannelUp(ctx)

	go m.consume(ctx, gen, stream)
}

func (m *PushManager) consume(ctx context.Context, gen uint64, stream purchase.Stream) {
	defer recoverFatal(m.logger, "push consume", m.onFatal)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-stream.Events():
			if !ok {
				select {
				case err := <-stream.Err():
					m.fail(gen, StateErrored, err)
				default:
					m.fail(gen, StateClosed, errStreamClosed)
				}
				return
			}
			m.observer.OnLiveEvent(ctx, ev)

		case err := <-stream.Err():
			m.fail(gen, StateErrored, err)
			return
		}
	}
}

// fail handles a drop of the connection generation gen. Stale generations
// are ignored.
func (m *PushManager) fail(gen uint64, st ChannelState, err error) {
	m.mu.Lock()
	if m.stopped || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(st)
	m.teardownLocked()
	m.setStateLocked(StateDisconnected)
	ctx := m.ctx
	m.mu.Unlock()

	m.logger.Warn("push channel lost", "state", st, "error", err)

	m.observer.OnChannelDown(ctx)
	m.scheduleReconnect()
}

func (m *PushManager) scheduleReconnect() {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}

	attempt := m.observer.NextReconnectAttempt()
	delay := m.backoff.Delay(attempt)

	if m.reconnect.arm(delay, m.connect) {
		metrics.ReconnectAttempts.Inc()
		m.logger.Info("scheduling push reconnect", "attempt", attempt, "delay", delay)
	}
}

func (m *PushManager) teardownLocked() {
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
}

func (m *PushManager) setStateLocked(st ChannelState) {
	if m.state != st {
		m.logger.Debug("push channel state", "from", m.state, "to", st)
	}
	m.state = st
	metrics.PushConnected.Set(metrics.BoolGauge(st == StateConnected))
}
