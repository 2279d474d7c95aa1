package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds every collector the pipeline reports to. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	dagRuns        *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	taskStatus     *prometheus.CounterVec
	apiCalls       *prometheus.CounterVec
	apiRetries     *prometheus.CounterVec
	rowsSynced     *prometheus.CounterVec
	factorRows     *prometheus.CounterVec
	factorDuration *prometheus.HistogramVec
	jobsQueued     prometheus.Gauge
}

// NewRecorder creates a recorder backed by its own registry
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		dagRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factorflow_dag_runs_total",
			Help: "Total number of finished DAG runs by status.",
		}, []string{"dag_id", "run_type", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factorflow_task_duration_seconds",
			Help:    "Duration of DAG task executions.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"task_type", "status"}),
		taskStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factorflow_task_status_total",
			Help: "Total number of DAG tasks by terminal status.",
		}, []string{"task_type", "status"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factorflow_upstream_calls_total",
			Help: "Total upstream API calls by outcome.",
		}, []string{"api_name", "outcome"}),
		apiRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factorflow_upstream_retries_total",
			Help: "Total upstream API call retries.",
		}, []string{"api_name"}),
		rowsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factorflow_rows_synced_total",
			Help: "Total rows upserted by sync tasks.",
		}, []string{"task_id"}),
		factorRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factorflow_factor_rows_total",
			Help: "Total factor values written.",
		}, []string{"factor_id"}),
		factorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factorflow_factor_duration_seconds",
			Help:    "Duration of factor production runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"factor_id", "status"}),
		jobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "factorflow_jobs_queued",
			Help: "Number of DAG jobs waiting in the in-process queue.",
		}),
	}

	registry.MustRegister(
		r.dagRuns,
		r.taskDuration,
		r.taskStatus,
		r.apiCalls,
		r.apiRetries,
		r.rowsSynced,
		r.factorRows,
		r.factorDuration,
		r.jobsQueued,
	)

	return r
}

// Registry returns the Prometheus registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// DAGRunFinished counts a finished DAG run
func (r *Recorder) DAGRunFinished(dagID, runType, status string) {
	if r == nil {
		return
	}
	r.dagRuns.WithLabelValues(dagID, runType, status).Inc()
}

// TaskFinished records a task's terminal status and duration
func (r *Recorder) TaskFinished(taskType, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.taskStatus.WithLabelValues(taskType, status).Inc()
	r.taskDuration.WithLabelValues(taskType, status).Observe(d.Seconds())
}

// APICall counts one upstream call attempt
func (r *Recorder) APICall(apiName, outcome string) {
	if r == nil {
		return
	}
	r.apiCalls.WithLabelValues(apiName, outcome).Inc()
}

// APIRetry counts one upstream retry
func (r *Recorder) APIRetry(apiName string) {
	if r == nil {
		return
	}
	r.apiRetries.WithLabelValues(apiName).Inc()
}

// RowsSynced adds rows upserted by a sync task
func (r *Recorder) RowsSynced(taskID string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsSynced.WithLabelValues(taskID).Add(float64(n))
}

// FactorFinished records a factor run
func (r *Recorder) FactorFinished(factorID, status string, rows int64, d time.Duration) {
	if r == nil {
		return
	}
	if rows > 0 {
		r.factorRows.WithLabelValues(factorID).Add(float64(rows))
	}
	r.factorDuration.WithLabelValues(factorID, status).Observe(d.Seconds())
}

// SetJobsQueued sets the queued job gauge
func (r *Recorder) SetJobsQueued(n int) {
	if r == nil {
		return
	}
	r.jobsQueued.Set(float64(n))
}
