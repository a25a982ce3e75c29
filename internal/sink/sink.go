// Package sink delivers admitted purchases to notification and storage
// backends. A Fanout builds one Message per purchase and hands it to every
// enabled Publisher concurrently.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marko911/presale-pulse/internal/metrics"
	"github.com/marko911/presale-pulse/internal/price"
	"github.com/marko911/presale-pulse/internal/purchase"
)

// Publisher is one delivery backend.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

// Fanout delivers each purchase to all publishers. It implements ingest.Sink.
type Fanout struct {
	publishers []Publisher
	prices     price.Source
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewFanout creates a fanout over publishers. timeout bounds each publish.
func NewFanout(prices price.Source, timeout time.Duration, logger *slog.Logger, publishers ...Publisher) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fanout{
		publishers: publishers,
		prices:     prices,
		timeout:    timeout,
		logger:     logger.With("component", "sink-fanout"),
		now:        time.Now,
	}
}

// Deliver publishes ev to every publisher and joins their errors. A failing
// publisher does not prevent delivery to the others.
func (f *Fanout) Deliver(ctx context.Context, ev purchase.Event) error {
	msg := NewMessage(ev, f.prices.ETHPrice(), f.now())

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, p := range f.publishers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			start := time.Now()
			err := p.Publish(pctx, msg)
			metrics.SinkLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

			if err != nil {
				metrics.SinkFailures.WithLabelValues(p.Name()).Inc()
				f.logger.Warn("publish failed",
					"sink", p.Name(),
					"tx", msg.TxHash,
					"delivery_id", msg.DeliveryID,
					"error", err,
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Names lists the configured publishers.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.publishers))
	for i, p := range f.publishers {
		names[i] = p.Name()
	}
	return names
}

// Close releases publishers that hold connections.
func (f *Fanout) Close() {
	for _, p := range f.publishers {
		if c, ok := p.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
