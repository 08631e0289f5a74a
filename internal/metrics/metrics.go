// Package metrics holds the Prometheus collectors shared across the
// service. Collectors register on the default registry; the API server
// exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BarsConsumed counts closed bars accepted from the feed topic.
	BarsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotus_feed_bars_consumed_total",
			Help: "Closed bars consumed from the feed topic",
		},
		[]string{"timeframe"},
	)

	// MalformedMessages counts feed messages dropped before evaluation.
	MalformedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lotus_feed_malformed_messages_total",
			Help: "Feed messages dropped because they could not be decoded",
		},
	)

	// StateTransitions counts trend state changes per from/to pair.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotus_trend_state_transitions_total",
			Help: "Trend state transitions",
		},
		[]string{"from", "to"},
	)

	// GateDecisions counts armed gate evaluations per pattern and result.
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotus_trend_gate_decisions_total",
			Help: "Armed gate decisions",
		},
		[]string{"pattern", "decision"},
	)

	// ThresholdLookups counts threshold resolutions per result and serving
	// source.
	ThresholdLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotus_threshold_lookups_total",
			Help: "Threshold lookups by result and serving source",
		},
		[]string{"result", "source"},
	)

	// LearningDuration observes how long each learning phase takes.
	LearningDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lotus_learning_phase_seconds",
			Help:    "Duration of learning loop phases",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// LessonsMined gauges the slice count of the latest mining run.
	LessonsMined = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lotus_learning_lessons_mined",
			Help: "Lessons written by the latest mining run",
		},
	)

	// OverridesMaterialized gauges live override rows after the latest
	// materialization (written plus restamped).
	OverridesMaterialized = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lotus_learning_overrides_materialized",
			Help: "Override rows carried by the latest materialization",
		},
	)

	// ConnectedClients gauges active websocket subscribers.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lotus_ws_connected_clients",
			Help: "Active websocket clients",
		},
	)
)
