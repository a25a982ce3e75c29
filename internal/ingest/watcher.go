package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Watcher runs the push channel and the coordinator together.
type Watcher struct {
	coord  *Coordinator
	push   *PushManager
	logger *slog.Logger
}

// NewWatcher builds a coordinator and a push manager sharing the same options.
func NewWatcher(cfg Config, client ChainClient, sink Sink, logger *slog.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	coord := NewCoordinator(cfg, client, sink, logger, opts...)
	push := NewPushManager(client, coord, Backoff{Base: cfg.ReconnectBase, Max: cfg.ReconnectMax}, logger, opts...)

	return &Watcher{
		coord:  coord,
		push:   push,
		logger: logger.With("component", "watcher"),
	}
}

// Run starts ingestion and blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.coord.Start(ctx); err != nil {
		return err
	}

	w.push.Start(ctx)
	defer w.Stop()

	w.logger.Info("watching for purchases", "last_known_block", w.coord.Snapshot().LastKnownBlock)

	err := w.coord.ReportStatus(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop closes the push channel and cancels all timers.
func (w *Watcher) Stop() {
	w.push.Stop()
	w.coord.Shutdown()
}

// Coordinator returns the underlying coordinator.
func (w *Watcher) Coordinator() *Coordinator {
	return w.coord
}

// PushState returns the push channel lifecycle state.
func (w *Watcher) PushState() ChannelState {
	return w.push.State()
}

// Healthy returns an error while the push channel is down.
func (w *Watcher) Healthy() error {
	st := w.coord.Snapshot()
	if st.Connected {
		return nil
	}
	return fmt.Errorf("push channel %s since block %d, standby poller running: %t",
		w.push.State(), st.OutageStartBlock, w.coord.Poller().Running())
}
