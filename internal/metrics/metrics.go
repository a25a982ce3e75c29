// Package metrics holds the Prometheus collectors exported by the watcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "presale"

var (
	// Ingestion
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "events_delivered_total",
		Help:      "Purchase events admitted by the ledger and handed to the sink",
	}, []string{"source"})

	DuplicatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "duplicates_dropped_total",
		Help:      "Purchase events rejected by the dedup ledger",
	}, []string{"source"})

	Watermark = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "last_known_block",
		Help:      "Highest block observed or scanned",
	})

	OutageStartBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "outage_start_block",
		Help:      "Block at which the current push outage began (0 when healthy)",
	})

	QueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "query_errors_total",
		Help:      "Failed pull-channel queries",
	}, []string{"op", "class"})

	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Standby poller cycles by outcome",
	}, []string{"outcome"})

	CatchUpRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catchup",
		Name:      "runs_total",
		Help:      "Catch-up runs by outcome",
	}, []string{"outcome"})

	CatchUpRange = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "catchup",
		Name:      "range_blocks",
		Help:      "Width of catch-up ranges in blocks",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	// Push channel
	PushConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "connected",
		Help:      "1 while the push subscription is healthy",
	})

	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "reconnect_attempts_total",
		Help:      "Scheduled reconnect attempts",
	})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "decode_errors_total",
		Help:      "Contract logs dropped because they could not be decoded",
	})

	// Sinks
	SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "failures_total",
		Help:      "Failed deliveries by sink",
	}, []string{"sink"})

	SinkLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "delivery_duration_seconds",
		Help:      "Delivery latency by sink",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"sink"})

	// Price feed
	ETHPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "price",
		Name:      "eth_usd",
		Help:      "Last ETH/USD price in use",
	})
)

// BoolGauge converts a flag into a gauge value.
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
