// Package metrics provides Prometheus metrics for the trace viewer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LayoutComputations counts full layout passes by direction.
	LayoutComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracelens",
			Subsystem: "layout",
			Name:      "computations_total",
			Help:      "Total number of layout computations by direction",
		},
		[]string{"direction"},
	)

	// LayoutDuration tracks layout computation time.
	LayoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tracelens",
			Subsystem: "layout",
			Name:      "duration_seconds",
			Help:      "Layout computation duration in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	// LayoutCacheLookups counts cache lookups by result.
	LayoutCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracelens",
			Subsystem: "layout",
			Name:      "cache_lookups_total",
			Help:      "Layout cache lookups by result",
		},
		[]string{"result"}, // "hit", "store_hit", "miss"
	)

	// LayoutStale counts layout results discarded because a newer request superseded them.
	LayoutStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tracelens",
			Subsystem: "layout",
			Name:      "stale_results_total",
			Help:      "Layout results dropped for a superseded topology version",
		},
	)

	// LayoutDegenerate counts layouts that needed best-effort placement.
	LayoutDegenerate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracelens",
			Subsystem: "layout",
			Name:      "degenerate_total",
			Help:      "Layouts with degenerate topology by condition",
		},
		[]string{"condition"}, // "cycle", "disconnected", "empty"
	)

	// HighlightDuration tracks highlight classification time.
	HighlightDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tracelens",
			Subsystem: "highlight",
			Name:      "duration_seconds",
			Help:      "Highlight classification duration in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
	)

	// RenderErrors counts renderers entering the error state.
	RenderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracelens",
			Subsystem: "render",
			Name:      "errors_total",
			Help:      "Renderer error states by error code",
		},
		[]string{"code"},
	)

	// InteractionEvents counts events emitted to the selection controller.
	InteractionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracelens",
			Subsystem: "render",
			Name:      "interaction_events_total",
			Help:      "Interaction events emitted by type",
		},
		[]string{"type"},
	)

	// TrackingFetches counts calls to the tracking backend.
	TrackingFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracelens",
			Subsystem: "tracking",
			Name:      "fetches_total",
			Help:      "Tracking backend fetches by resource and outcome",
		},
		[]string{"resource", "outcome"},
	)
)

// ViewerSessions tracks open panel viewer sessions.
var ViewerSessions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tracelens",
		Subsystem: "panel",
		Name:      "viewer_sessions",
		Help:      "Number of open viewer sessions",
	},
)
