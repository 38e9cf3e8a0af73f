package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AlertsEmitted counts alerts that passed qualification and dedup.
var AlertsEmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpwatch",
		Subsystem: "detector",
		Name:      "alerts_emitted_total",
		Help:      "Total number of alerts emitted",
	},
	[]string{"instrument"},
)

// DedupSuppressed counts qualifying events swallowed by the dedup cache.
var DedupSuppressed = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpwatch",
		Subsystem: "detector",
		Name:      "dedup_suppressed_total",
		Help:      "Qualifying events suppressed as duplicates",
	},
)

// TargetAddresses is the current leaderboard target set size.
var TargetAddresses = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpwatch",
		Subsystem: "leaderboard",
		Name:      "target_addresses",
		Help:      "Number of addresses in the current target set",
	},
)

// RefreshesTotal counts leaderboard refresh attempts by outcome.
var RefreshesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpwatch",
		Subsystem: "leaderboard",
		Name:      "refreshes_total",
		Help:      "Leaderboard refresh attempts",
	},
	[]string{"result"}, // success, failure
)

// SubscribedAddresses is the number of live fill subscriptions.
var SubscribedAddresses = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "perpwatch",
		Subsystem: "connection",
		Name:      "subscribed_addresses",
		Help:      "Number of addresses with an active fill subscription",
	},
)

// ReconnectsTotal counts transport reconnect attempts.
var ReconnectsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "perpwatch",
		Subsystem: "connection",
		Name:      "reconnects_total",
		Help:      "WebSocket reconnect attempts",
	},
)

// FillEvents counts inbound fill events by handling outcome.
var FillEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpwatch",
		Subsystem: "connection",
		Name:      "fill_events_total",
		Help:      "Inbound fill events",
	},
	[]string{"result"}, // processed, dropped
)

// SnapshotFetchSeconds observes position snapshot fetch latency.
var SnapshotFetchSeconds = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "perpwatch",
		Subsystem: "api",
		Name:      "snapshot_fetch_seconds",
		Help:      "Position snapshot fetch latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
)

// FetchErrors counts upstream fetch failures by operation.
var FetchErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpwatch",
		Subsystem: "api",
		Name:      "fetch_errors_total",
		Help:      "Upstream fetch failures",
	},
	[]string{"op"}, // leaderboard, positions
)
