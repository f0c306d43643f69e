package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inmet_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	RunRunning prometheus.Gauge

	// Partition processing metrics.
	Partitions        *prometheus.CounterVec   // labels: stage={silver,gold}, outcome={success,failed,skipped}
	PartitionDuration *prometheus.HistogramVec // labels: stage
	RecordsRead       *prometheus.CounterVec   // labels: stage
	RecordsWritten    *prometheus.CounterVec   // labels: stage

	// Data quality metrics.
	CoercionNulls     *prometheus.CounterVec // labels: field, reason={missing,sentinel,invalid,out_of_range}
	DroppedRecords    *prometheus.CounterVec // labels: reason={timestamp,identity,out_of_partition,out_of_window}
	DuplicatesRemoved prometheus.Counter

	// Publication notices.
	Notices *prometheus.CounterVec // labels: dataset, outcome={success,error}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.RunRunning,
		m.Partitions,
		m.PartitionDuration,
		m.RecordsRead,
		m.RecordsWritten,
		m.CoercionNulls,
		m.DroppedRecords,
		m.DuplicatesRemoved,
		m.Notices,
	)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		RunRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_running",
			Help:      help("1 while a run is processing partitions, 0 otherwise."),
		}),
		Partitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_total",
			Help:      help("Processed partitions by stage and outcome."),
		}, []string{"stage", "outcome"}),
		PartitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "partition_duration_seconds",
			Help:      help("Duration of a read-transform-write cycle for one partition."),
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		RecordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      help("Records read by stage."),
		}, []string{"stage"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      help("Records published by stage."),
		}, []string{"stage"}),
		CoercionNulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coercion_nulls_total",
			Help:      help("Values coerced to null by canonical field and reason."),
		}, []string{"field", "reason"}),
		DroppedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_records_total",
			Help:      help("Records left out of a dataset by reason."),
		}, []string{"reason"}),
		DuplicatesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_removed_total",
			Help:      help("Duplicate observations collapsed during the Silver stage."),
		}),
		Notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      help("Publication notices by dataset and outcome."),
		}, []string{"dataset", "outcome"}),
	}
}
