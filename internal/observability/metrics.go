package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline.
type Metrics struct {
	ConnectorRuns    *prometheus.CounterVec // labels: connector, outcome={success,failed}
	FeaturesFetched  *prometheus.CounterVec // labels: connector, collection
	FeaturesSkipped  prometheus.Counter
	ItemsUpserted    *prometheus.CounterVec // labels: connector, collection
	ItemSaveErrors   prometheus.Counter
	AggregatesLoaded prometheus.Counter
	AlertsPublished  prometheus.Counter
	RunDuration      *prometheus.HistogramVec // labels: connector

	// Validation (secondary pipeline) metrics.
	ValidationProcessed prometheus.Counter
	ValidationEligible  prometheus.Counter
	ValidationErrors    prometheus.Counter

	WorkerRunning prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ConnectorRuns,
		m.FeaturesFetched,
		m.FeaturesSkipped,
		m.ItemsUpserted,
		m.ItemSaveErrors,
		m.AggregatesLoaded,
		m.AlertsPublished,
		m.RunDuration,
		m.ValidationProcessed,
		m.ValidationEligible,
		m.ValidationErrors,
		m.WorkerRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ConnectorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "connector_runs_total",
			Help:      "Connector pull runs by connector type and outcome.",
		}, []string{"connector", "outcome"}),
		FeaturesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "features_fetched_total",
			Help:      "STAC features fetched by connector and collection.",
		}, []string{"connector", "collection"}),
		FeaturesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "features_skipped_total",
			Help:      "Event features skipped for missing identity.",
		}),
		ItemsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "items_upserted_total",
			Help:      "Raw items written to the store by connector and collection.",
		}, []string{"connector", "collection"}),
		ItemSaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "item_save_errors_total",
			Help:      "Per-event persistence units rolled back and skipped.",
		}),
		AggregatesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "aggregates_loaded_total",
			Help:      "Aggregated records upserted.",
		}),
		AlertsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "alerts_published_total",
			Help:      "Eligible aggregates published to the alert topic.",
		}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "disaster_ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete connector pull run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"connector"}),
		ValidationProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "validation_processed_total",
			Help:      "Raw items examined by the validation pipeline.",
		}),
		ValidationEligible: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "validation_eligible_total",
			Help:      "Raw items copied to the eligible-items store.",
		}),
		ValidationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disaster_ingest",
			Name:      "validation_errors_total",
			Help:      "Per-item validation failures.",
		}),
		WorkerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "disaster_ingest",
			Name:      "worker_running",
			Help:      "1 when the task worker is subscribed, 0 when shut down.",
		}),
	}
}
