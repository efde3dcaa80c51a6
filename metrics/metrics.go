// Package metrics exposes Prometheus collectors for co-view tracking and
// related-item queries. Collectors register on the default registry and are
// served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for TrackedViews.
const (
	OutcomeCounted       = "counted"
	OutcomeAuthenticated = "authenticated"
	OutcomeMissingItem   = "missing_item"
	OutcomeNoPrevious    = "no_previous"
	OutcomeStalePrevious = "stale_previous"
	OutcomeRepeat        = "repeat"
	OutcomeError         = "error"
)

var (
	// TrackedViews counts tracker invocations by outcome.
	TrackedViews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alsoviewed_tracked_views_total",
			Help: "Item views seen by the co-view tracker, by outcome",
		},
		[]string{"outcome"},
	)

	// PartialWrites counts transitions where only one of the two counter rows was written.
	PartialWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alsoviewed_partial_writes_total",
			Help: "Transitions where one directional counter upsert failed",
		},
	)

	// RelatedQueries counts related-item queries by sort column and result.
	RelatedQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alsoviewed_related_queries_total",
			Help: "Related item queries, by sort column and result",
		},
		[]string{"sort", "result"},
	)

	// RelatedQueryDuration observes related-item query latency.
	RelatedQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alsoviewed_related_query_duration_seconds",
			Help:    "Related item query latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
	)

	// PanelCache counts related panel cache lookups by result (hit, miss).
	PanelCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alsoviewed_panel_cache_total",
			Help: "Related panel cache lookups, by result",
		},
		[]string{"result"},
	)
)
