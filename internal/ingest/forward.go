package ingest

import (
	"context"
	"log/slog"

	"github.com/marko911/presale-pulse/internal/metrics"
	"github.com/marko911/presale-pulse/internal/purchase"
)

// forwarder is the single admission gate in front of the sink.
type forwarder struct {
	ledger *Ledger
	sink   Sink
	logger *slog.Logger
}

// forward admits ev through the ledger and hands it to the sink. It returns
// false when the event was dropped as malformed or duplicate. Sink failures
// are logged and not retried.
func (f *forwarder) forward(ctx context.Context, ev purchase.Event, src purchase.Source) bool {
	ev = ev.WithSource(src)

	if ev.ID() == "" {
		f.logger.Warn("dropping purchase without transaction hash", "block", ev.BlockNumber, "source", src)
		return false
	}

	if !f.ledger.Admit(ev.ID()) {
		metrics.DuplicatesDropped.WithLabelValues(string(src)).Inc()
		f.logger.Debug("duplicate purchase dropped", "tx", ev.TxHash, "block", ev.BlockNumber, "source", src)
		return false
	}

	metrics.EventsDelivered.WithLabelValues(string(src)).Inc()
	if err := f.sink.Deliver(ctx, ev); err != nil {
		f.logger.Error("failed to deliver purchase",
			"tx", ev.TxHash,
			"block", ev.BlockNumber,
			"source", src,
			"error", err,
		)
		return true
	}

	f.logger.Info("purchase delivered",
		"tx", ev.TxHash,
		"block", ev.BlockNumber,
		"buyer", ev.Buyer.Hex(),
		"tokens", ev.Tokens(),
		"source", src,
	)
	return true
}

// forwardAll forwards a batch and returns how many were admitted.
func (f *forwarder) forwardAll(ctx context.Context, events []purchase.Event, src purchase.Source) int {
	admitted := 0
	for _, ev := range events {
		if f.forward(ctx, ev, src) {
			admitted++
		}
	}
	return admitted
}
