package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/middleware"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// RunQuery is the read side of the DAG executor
type RunQuery interface {
	GetRunStatus(ctx context.Context, runID string) (*models.RunRecord, error)
	GetDagRuns(ctx context.Context, dagID string, limit int, runType models.RunType) ([]*models.RunRecord, error)
	GetBackfillSummary(ctx context.Context, backfillID string) (*models.BackfillSummary, error)
}

// Backfiller runs a DAG over a range of dates
type Backfiller interface {
	Backfill(ctx context.Context, req scheduler.BackfillRequest) (*models.BackfillSummary, error)
}

// DAGRunHandler handles DAG run, job and backfill HTTP requests
type DAGRunHandler struct {
	dags     storage.DAGConfigRepository
	queue    scheduler.Queue
	runs     RunQuery
	backfill Backfiller
}

// NewDAGRunHandler creates a new DAG run handler
func NewDAGRunHandler(dags storage.DAGConfigRepository, queue scheduler.Queue, runs RunQuery, backfill Backfiller) *DAGRunHandler {
	return &DAGRunHandler{
		dags:     dags,
		queue:    queue,
		runs:     runs,
		backfill: backfill,
	}
}

// TriggerDAG handles POST /api/v1/dags/:id/run. The run is queued and the
// job id is returned for polling.
func (h *DAGRunHandler) TriggerDAG(c *gin.Context) {
	var req dto.TriggerDAGRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	dagID := c.Param("id")
	if _, err := h.dags.Get(c.Request.Context(), dagID); err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	jobID, err := h.queue.Enqueue(c.Request.Context(), scheduler.JobRequest{
		DAGID:       dagID,
		TargetDate:  req.TargetDate,
		TriggerType: models.TriggerAPI,
		RunType:     models.RunType(req.RunType),
	})
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.TriggerDAGResponse{JobID: jobID, DAGID: dagID})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *DAGRunHandler) GetJob(c *gin.Context) {
	job, err := h.queue.Status(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListRuns handles GET /api/v1/dags/:id/runs?limit=&run_type=
func (h *DAGRunHandler) ListRuns(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	runType := models.RunType(c.Query("run_type"))
	if runType != "" && runType != models.RunTypeToday && runType != models.RunTypeBackfill {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_RUN_TYPE", "run_type must be today or backfill")
		return
	}

	runs, err := h.runs.GetDagRuns(c.Request.Context(), c.Param("id"), limit, runType)
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.RunListResponse{Runs: runs, Total: len(runs)})
}

// GetRun handles GET /api/v1/runs/:run_id
func (h *DAGRunHandler) GetRun(c *gin.Context) {
	run, err := h.runs.GetRunStatus(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// Backfill handles POST /api/v1/dags/:id/backfill. The backfill runs
// synchronously and the day-by-day summary is returned.
func (h *DAGRunHandler) Backfill(c *gin.Context) {
	var req dto.BackfillRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	summary, err := h.backfill.Backfill(c.Request.Context(), scheduler.BackfillRequest{
		DAGID:     c.Param("id"),
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetBackfill handles GET /api/v1/backfills/:backfill_id
func (h *DAGRunHandler) GetBackfill(c *gin.Context) {
	summary, err := h.runs.GetBackfillSummary(c.Request.Context(), c.Param("backfill_id"))
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// queryLimit parses ?limit=, zero meaning the default
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer")
		return 0, false
	}
	q := dto.LimitQuery{Limit: limit}
	if err := middleware.ValidateRequest(q); err != nil {
		middleware.AbortWithErrorDetails(c, http.StatusBadRequest, "INVALID_LIMIT", "limit out of range",
			middleware.ValidationErrorResponse(err))
		return 0, false
	}
	return limit, true
}
