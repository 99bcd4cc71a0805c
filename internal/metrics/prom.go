package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// mutationTotal counts settled optimistic mutations by kind and result
	mutationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipe_client_mutations_total",
		Help: "Settled optimistic mutations by kind and result",
	}, []string{"kind", "result"})

	// mutationDuration tracks the time from optimistic apply to settlement
	mutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recipe_client_mutation_duration_seconds",
		Help:    "Time from optimistic apply to settlement",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
	}, []string{"kind"})

	// pageLoadTotal counts page fetches by result
	pageLoadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipe_client_page_loads_total",
		Help: "Paginated list fetches by result",
	}, []string{"result"})

	// tokenFetchTotal counts anti-forgery token fetches by result
	tokenFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipe_client_token_fetches_total",
		Help: "Anti-forgery token fetches by result",
	}, []string{"result"})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveTokenFetch records the outcome of one token fetch.
func ObserveTokenFetch(err error) {
	tokenFetchTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObservePageLoad records the outcome of one page fetch.
func ObservePageLoad(err error) {
	pageLoadTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveMutation records a settled mutation.
func ObserveMutation(kind, result string, latency time.Duration) {
	mutationTotal.WithLabelValues(kind, result).Inc()
	mutationDuration.WithLabelValues(kind).Observe(latency.Seconds())
}

// Handler exposes the collectors for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
