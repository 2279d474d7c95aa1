package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/production"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/syncer"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/middleware"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// SyncService is the data-sync executor surface exposed over HTTP
type SyncService interface {
	ExecuteByID(ctx context.Context, taskID, targetDate, endDate string) (*syncer.Result, error)
	GetTaskStatus(ctx context.Context, taskID string) (*models.SyncTaskStatus, error)
	SyncAllEnabled(ctx context.Context, targetDate string) (map[string]bool, error)
}

// FactorService is the factor-production executor surface exposed over HTTP
type FactorService interface {
	RunTask(ctx context.Context, factorID string, opts production.RunOptions) (*production.RunResult, error)
	ListFactors(ctx context.Context) ([]production.FactorSummary, error)
	GetFactorRuns(ctx context.Context, factorID string, limit int) ([]*models.FactorRun, error)
	UpdatePreprocess(ctx context.Context, factorID string, overrides map[string]interface{}) (models.PreprocessOptions, error)
}

// TaskHandler runs sync and factor tasks outside of a DAG
type TaskHandler struct {
	sync    SyncService
	factors FactorService
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(sync SyncService, factors FactorService) *TaskHandler {
	return &TaskHandler{sync: sync, factors: factors}
}

// RunSync handles POST /api/v1/sync/:task_id/run
func (h *TaskHandler) RunSync(c *gin.Context) {
	var req dto.SyncRunRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	result, err := h.sync.ExecuteByID(c.Request.Context(), c.Param("task_id"), req.TargetDate, req.EndDate)
	taskResponse(c, result, err)
}

// SyncStatus handles GET /api/v1/sync/:task_id
func (h *TaskHandler) SyncStatus(c *gin.Context) {
	status, err := h.sync.GetTaskStatus(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// SyncAll handles POST /api/v1/sync/run
func (h *TaskHandler) SyncAll(c *gin.Context) {
	var req dto.SyncRunRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	results, err := h.sync.SyncAllEnabled(c.Request.Context(), req.TargetDate)
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SyncAllResponse{Results: results})
}

// ListFactors handles GET /api/v1/factors
func (h *TaskHandler) ListFactors(c *gin.Context) {
	factors, err := h.factors.ListFactors(c.Request.Context())
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"factors": factors, "total": len(factors)})
}

// RunFactor handles POST /api/v1/factors/:factor_id/run
func (h *TaskHandler) RunFactor(c *gin.Context) {
	var req dto.FactorRunRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	result, err := h.factors.RunTask(c.Request.Context(), c.Param("factor_id"), production.RunOptions{
		TargetDate: req.TargetDate,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Mode:       models.ComputeMode(req.Mode),
		Preprocess: req.Preprocess,
	})
	taskResponse(c, result, err)
}

// FactorRuns handles GET /api/v1/factors/:factor_id/runs?limit=
func (h *TaskHandler) FactorRuns(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	if limit == 0 {
		limit = 20
	}

	runs, err := h.factors.GetFactorRuns(c.Request.Context(), c.Param("factor_id"), limit)
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// UpdatePreprocess handles PUT /api/v1/factors/:factor_id/preprocess
func (h *TaskHandler) UpdatePreprocess(c *gin.Context) {
	var req dto.PreprocessUpdateRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	factorID := c.Param("factor_id")
	resolved, err := h.factors.UpdatePreprocess(c.Request.Context(), factorID, req.Preprocess)
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.PreprocessResponse{FactorID: factorID, Preprocess: resolved})
}

// taskResponse writes a task result. Lookup and validation errors map to
// their status; a task that ran and failed is a 422 carrying its result.
func taskResponse(c *gin.Context, result interface{}, err error) {
	if err == nil {
		c.JSON(http.StatusOK, result)
		return
	}
	if status, _ := middleware.StatusFor(err); status != http.StatusInternalServerError {
		middleware.AbortWithCoreError(c, err)
		return
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{"result": result, "error": err.Error()})
}
