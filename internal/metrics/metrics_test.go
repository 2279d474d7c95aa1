package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_Counts(t *testing.T) {
	r := NewRecorder()

	r.DAGRunFinished("daily", "today", "success")
	r.DAGRunFinished("daily", "today", "success")
	r.TaskFinished("sync", "failed", 2*time.Second)
	r.APICall("daily", "ok")
	r.APIRetry("daily")
	r.RowsSynced("sync_daily", 120)
	r.RowsSynced("sync_daily", 0)
	r.FactorFinished("factor_ma_20", "success", 50, time.Second)
	r.SetJobsQueued(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.dagRuns.WithLabelValues("daily", "today", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.taskStatus.WithLabelValues("sync", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.apiRetries.WithLabelValues("daily")))
	assert.Equal(t, 120.0, testutil.ToFloat64(r.rowsSynced.WithLabelValues("sync_daily")))
	assert.Equal(t, 50.0, testutil.ToFloat64(r.factorRows.WithLabelValues("factor_ma_20")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.jobsQueued))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.DAGRunFinished("daily", "today", "success")
		r.TaskFinished("sync", "success", time.Second)
		r.APICall("daily", "ok")
		r.RowsSynced("sync_daily", 10)
		r.SetJobsQueued(1)
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.DAGRunFinished("daily", "backfill", "failed")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "factorflow_dag_runs_total"))
}
