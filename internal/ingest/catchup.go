package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marko911/presale-pulse/internal/chain"
	"github.com/marko911/presale-pulse/internal/metrics"
	"github.com/marko911/presale-pulse/internal/purchase"
)

// CatchUp closes the gap left by a push outage with one bounded range query,
// or with consecutive windows of at most maxRange blocks when maxRange is set.
type CatchUp struct {
	client   ChainClient
	maxRange uint64
	logger   *slog.Logger
}

// NewCatchUp creates a catch-up fetcher. A zero maxRange queries the whole
// gap at once.
func NewCatchUp(client ChainClient, maxRange uint64, logger *slog.Logger) *CatchUp {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatchUp{
		client:   client,
		maxRange: maxRange,
		logger:   logger.With("component", "catch-up"),
	}
}

// Run fetches [st.OutageStartBlock, head] and forwards admitted events. On
// success the watermark moves to head and the outage marker is cleared. On
// failure the unfetched remainder stays marked so it is retried on the next
// reconnect; with a single window st is left untouched. The caller must hold
// the coordinator lock.
func (c *CatchUp) Run(ctx context.Context, st *State, fw *forwarder) error {
	if st.OutageStartBlock == 0 || st.LastKnownBlock == 0 {
		return nil
	}
	from := st.OutageStartBlock

	head, err := c.client.Head(ctx)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("head", string(chain.Classify(err))).Inc()
		metrics.CatchUpRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("catch-up head: %w", err)
	}

	if head <= from {
		c.logger.Info("no gap to catch up", "outage_start", from, "head", head)
		metrics.CatchUpRuns.WithLabelValues("no_gap").Inc()
		st.OutageStartBlock = 0
		return nil
	}

	c.logger.Info("catching up after outage", "from", from, "to", head, "blocks", head-from+1)

	var found, admitted int
	for start := from; start <= head; {
		end := head
		if c.maxRange > 0 && end-start+1 > c.maxRange {
			end = start + c.maxRange - 1
		}

		events, err := c.client.QueryRange(ctx, start, end)
		if err != nil {
			metrics.QueryErrors.WithLabelValues("range", string(chain.Classify(err))).Inc()
			metrics.CatchUpRuns.WithLabelValues("error").Inc()
			return fmt.Errorf("catch-up range %d-%d: %w", start, end, err)
		}

		found += len(events)
		admitted += fw.forwardAll(ctx, events, purchase.SourceCatchUp)

		if end < head {
			st.advance(end)
			st.OutageStartBlock = end + 1
			c.logger.Debug("catch-up window complete", "from", start, "to", end, "remaining", head-end)
		}
		start = end + 1
	}

	st.advance(head)
	st.OutageStartBlock = 0

	metrics.CatchUpRuns.WithLabelValues("ok").Inc()
	metrics.CatchUpRange.Observe(float64(head - from + 1))
	c.logger.Info("catch-up complete",
		"from", from,
		"to", head,
		"found", found,
		"delivered", admitted,
	)
	return nil
}
