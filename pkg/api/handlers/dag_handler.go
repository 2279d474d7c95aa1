package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/middleware"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// DAGHandler handles DAG definition HTTP requests
type DAGHandler struct {
	dags storage.DAGConfigRepository
}

// NewDAGHandler creates a new DAG handler
func NewDAGHandler(dags storage.DAGConfigRepository) *DAGHandler {
	return &DAGHandler{dags: dags}
}

// CreateDAG handles POST /api/v1/dags
func (h *DAGHandler) CreateDAG(c *gin.Context) {
	var req dto.CreateDAGRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	def := req.ToDefinition()
	if err := h.dags.Create(c.Request.Context(), def); err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusCreated, layered(def))
}

// ListDAGs handles GET /api/v1/dags
func (h *DAGHandler) ListDAGs(c *gin.Context) {
	var defs []*models.DAGDefinition
	var err error
	if schedule := c.Query("schedule"); schedule != "" {
		defs, err = h.dags.ListBySchedule(c.Request.Context(), schedule)
	} else {
		defs, err = h.dags.List(c.Request.Context())
	}
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DAGListResponse{DAGs: defs, Total: len(defs)})
}

// GetDAG handles GET /api/v1/dags/:id
func (h *DAGHandler) GetDAG(c *gin.Context) {
	def, err := h.dags.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, layered(def))
}

// UpdateDAG handles PUT /api/v1/dags/:id
func (h *DAGHandler) UpdateDAG(c *gin.Context) {
	var req dto.CreateDAGRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	dagID := c.Param("id")
	def := req.ToDefinition()
	if err := h.dags.Update(c.Request.Context(), dagID, def); err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	def.DAGID = dagID
	c.JSON(http.StatusOK, layered(def))
}

// DeleteDAG handles DELETE /api/v1/dags/:id
func (h *DAGHandler) DeleteDAG(c *gin.Context) {
	if err := h.dags.Delete(c.Request.Context(), c.Param("id")); err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ValidateDAG handles POST /api/v1/dags/validate and reports the layering
// without storing the definition
func (h *DAGHandler) ValidateDAG(c *gin.Context) {
	var req dto.CreateDAGRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	resp, err := describe(req.ToDefinition())
	if err != nil {
		middleware.AbortWithCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// describe attaches the execution layers, entry tasks and final tasks of def
func describe(def *models.DAGDefinition) (dto.DAGResponse, error) {
	resp := dto.DAGResponse{DAGDefinition: def}
	run, err := dag.BuildDag(def)
	if err != nil {
		return resp, err
	}
	graph := dag.NewGraph(run)
	if resp.Layers, err = graph.Layers(def.DAGID); err != nil {
		return resp, err
	}
	resp.Roots = graph.GetRootTasks()
	resp.Leaves = graph.GetLeafTasks()
	return resp, nil
}

// layered describes a stored definition, which is known to be valid
func layered(def *models.DAGDefinition) dto.DAGResponse {
	resp, _ := describe(def)
	return resp
}
