package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection for one analyzer process.
// Metrics live on a private registry so a batch run can flush them to a
// textfile without touching the global default registry.
type Collector struct {
	registry *prometheus.Registry

	// Source Metrics
	ObservationsReadTotal    *prometheus.CounterVec
	ObservationsDroppedTotal *prometheus.CounterVec
	SourceErrorsTotal        *prometheus.CounterVec

	// Aggregation Metrics
	WindowsAggregatedTotal prometheus.Counter
	EmptyWindowsTotal      prometheus.Counter
	AggregateRecordsTotal  prometheus.Counter
	SegmentsWithData       *prometheus.GaugeVec

	// Stage Metrics
	StageDuration *prometheus.HistogramVec
	RunsTotal     *prometheus.CounterVec

	// Reference store
	DBQueryDuration *prometheus.HistogramVec
	DBErrorsTotal   *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		ObservationsReadTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observations_read_total",
				Help:      "Total number of raw probe observations read by vehicle class",
			},
			[]string{"vehicle"},
		),

		ObservationsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observations_dropped_total",
				Help:      "Total number of observations removed by the filter, by reason",
			},
			[]string{"reason"},
		),

		SourceErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of fatal source errors by type",
			},
			[]string{"error_type"},
		),

		WindowsAggregatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "windows_aggregated_total",
				Help:      "Total number of time-of-day windows aggregated",
			},
		),

		EmptyWindowsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "empty_windows_total",
				Help:      "Total number of windows without any matching observation",
			},
		),

		AggregateRecordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregate_records_total",
				Help:      "Total number of (segment, window) aggregate records produced",
			},
		),

		SegmentsWithData: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "segments_with_data",
				Help:      "Number of segments with at least one observation in the window",
			},
			[]string{"vehicle", "window"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of vehicle-class runs by outcome",
			},
			[]string{"outcome"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Reference store query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"query_type"},
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of reference store errors by type",
			},
			[]string{"error_type"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// StageTimer creates a timer observing the named pipeline stage
func (c *Collector) StageTimer(stage string) *Timer {
	return c.NewTimer(c.StageDuration.WithLabelValues(stage))
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordDropped adds n dropped observations for the given reason
func (c *Collector) RecordDropped(reason string, n int) {
	if n <= 0 {
		return
	}
	c.ObservationsDroppedTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordSourceError increments the source error counter
func (c *Collector) RecordSourceError(errorType string) {
	c.SourceErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordRun increments the run counter for an outcome ("success" or "failure")
func (c *Collector) RecordRun(outcome string) {
	c.RunsTotal.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes every registered metric to path in the Prometheus text
// exposition format, for the node-exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
