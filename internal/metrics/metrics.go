// internal/metrics/metrics.go
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarium_recommendations_total",
			Help: "Recommendation lists served, by mode and assembly branch",
		},
		[]string{"mode", "branch"},
	)

	RecommendationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "librarium_recommendation_duration_seconds",
			Help:    "Time spent building a recommendation list",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	RecommendationCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "librarium_recommendation_candidates",
			Help:    "Eligible candidates scored per personalized request",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	LoansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarium_loans_total",
			Help: "Loan transitions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "librarium_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern, method and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

// ObserveRecommendation records one completed recommendation request.
func ObserveRecommendation(mode, branch string, started time.Time) {
	RecommendationsTotal.WithLabelValues(mode, branch).Inc()
	RecommendationDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

// ObserveLoan records a borrow or return attempt.
func ObserveLoan(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LoansTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTP records a served request.
func ObserveHTTP(route, method string, status int, started time.Time) {
	HTTPRequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(time.Since(started).Seconds())
}
