package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movies",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "movies",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "path"})

	TMDBRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movies",
		Name:      "tmdb_requests_total",
		Help:      "Total TMDB fetches by endpoint and result status.",
	}, []string{"endpoint", "status"})

	TMDBRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "movies",
		Name:      "tmdb_request_duration_seconds",
		Help:      "TMDB fetch duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	}, []string{"endpoint"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "movies",
		Name:      "cache_hits_total",
		Help:      "Total number of TMDB response cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "movies",
		Name:      "cache_misses_total",
		Help:      "Total number of TMDB response cache misses.",
	})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "movies",
		Name:      "search_sessions_active",
		Help:      "Number of open search sessions.",
	})

	SearchesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "movies",
		Name:      "search_issued_total",
		Help:      "Searches issued after the debounce window elapsed.",
	})

	DebounceResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "movies",
		Name:      "search_debounce_resets_total",
		Help:      "Pending searches superseded by a newer query before the debounce window elapsed.",
	})

	StaleResultsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "movies",
		Name:      "search_stale_results_dropped_total",
		Help:      "Search completions discarded because a newer search was issued or the session closed.",
	})

	WSConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "movies",
		Name:      "ws_connections_active",
		Help:      "Number of connected live-session WebSocket clients.",
	})

	WSUpgradesRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "movies",
		Name:      "ws_upgrades_rejected_total",
		Help:      "Live-session upgrades refused by the connection rate limit.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TMDBRequestsTotal,
		TMDBRequestDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		SessionsActive,
		SearchesIssuedTotal,
		DebounceResetsTotal,
		StaleResultsDroppedTotal,
		WSConnectionsActive,
		WSUpgradesRejectedTotal,
	)
}
