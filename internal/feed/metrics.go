package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	fillsStarted prometheus.Counter
	fragments    *prometheus.CounterVec
	fetchErrors  *prometheus.CounterVec
	staleDropped prometheus.Counter
	gaps         prometheus.Gauge
	posts        prometheus.Gauge
}

// newMetrics registers the feed collectors on reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		fillsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "fills_started_total",
			Help:      "Number of gap fill tasks started",
		}),
		fragments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "fragments_applied_total",
			Help:      "Fragments merged into the timeline",
		}, []string{"account"}),
		fetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "fetch_errors_total",
			Help:      "Account fetch failures attached to gaps",
		}, []string{"account"}),
		staleDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "stale_fragments_dropped_total",
			Help:      "Fragments discarded because their fill was cancelled",
		}),
		gaps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "threadline",
			Name:      "gaps",
			Help:      "Gaps currently held by the timeline",
		}),
		posts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "threadline",
			Name:      "posts",
			Help:      "Posts currently held by the timeline",
		}),
	}
}
