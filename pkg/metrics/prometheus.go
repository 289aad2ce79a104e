package metrics

import (
	"RSIndex/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements repository.Metrics on Prometheus.
type Recorder struct {
	jobs        *prometheus.CounterVec
	rowsWritten *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	indexValue  *prometheus.GaugeVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in production
// and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsindex_jobs_total",
			Help: "Computation runs by job and outcome",
		}, []string{"job", "status"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsindex_rows_written_total",
			Help: "Rows upserted per table",
		}, []string{"table"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsindex_skipped_total",
			Help: "Dates, periods or groups skipped by reason",
		}, []string{"component", "reason"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsindex_errors_total",
			Help: "Errors by kind",
		}, []string{"type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rsindex_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"operation"}),
		indexValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rsindex_index_value",
			Help: "Latest value of each index",
		}, []string{"index_type", "index_code"}),
	}
	if reg != nil {
		reg.MustRegister(r.jobs, r.rowsWritten, r.skipped, r.errorsTotal, r.latency, r.indexValue)
	}
	return r
}

func (r *Recorder) RecordJob(job, status string) {
	r.jobs.WithLabelValues(job, status).Inc()
}

func (r *Recorder) RecordRowsWritten(table string, n int) {
	r.rowsWritten.WithLabelValues(table).Add(float64(n))
}

func (r *Recorder) RecordSkipped(component, reason string) {
	r.skipped.WithLabelValues(component, reason).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordIndexValue(key models.IndexKey, value float64) {
	r.indexValue.WithLabelValues(key.IndexType, key.IndexCode).Set(value)
}
