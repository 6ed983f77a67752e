// Package metrics
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_name"},
	)
	RecordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_processed_total",
			Help: "Records handled by a batch job, labeled by job and outcome.",
		},
		[]string{"job", "outcome"},
	)
	PlacesRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "places_requests_total",
			Help: "Requests made to the places API, labeled by endpoint and result status.",
		},
		[]string{"endpoint", "status"},
	)
	LastProcessedID = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "last_processed_id",
			Help: "The last record id checkpointed by a batch job.",
		},
		[]string{"job"},
	)
	Backoffs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffs_total",
			Help: "Backoff pauses taken by a batch job, labeled by reason.",
		},
		[]string{"job", "reason"},
	)
	TotalLaundromats = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "laundromats_total",
			Help: "Total number of rows in the laundromats table.",
		},
	)
	PendingNearby = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_nearby_total",
			Help: "Laundromats that have not been enriched with nearby places yet.",
		},
	)
)

func init() {
	prometheus.MustRegister(DBQueryDuration)
	prometheus.MustRegister(RecordsProcessed)
	prometheus.MustRegister(PlacesRequests)
	prometheus.MustRegister(LastProcessedID)
	prometheus.MustRegister(Backoffs)
	prometheus.MustRegister(TotalLaundromats)
	prometheus.MustRegister(PendingNearby)
}

func ExposeMetrics(addr string) {
	slog.Info("Exposing Prometheus metrics", "address", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Failed to start Prometheus metrics server", "error", err)
	}
}
