package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/circuitbreaker"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/handlers"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/middleware"
)

// Version is reported by /health
const Version = "0.3.0"

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// UpstreamHealth reports the circuit state of every upstream API
type UpstreamHealth interface {
	BreakerStats() []circuitbreaker.Stats
}

// Dependencies are the core services the HTTP boundary adapts
type Dependencies struct {
	DAGs     storage.DAGConfigRepository
	Queue    scheduler.Queue
	Runs     handlers.RunQuery
	Backfill handlers.Backfiller
	Sync     handlers.SyncService
	Factors  handlers.FactorService

	// Metrics serves /metrics when set
	Metrics http.Handler
	// Database is pinged by /health when set
	Database HealthChecker
	// Upstream circuits are listed by /health when set. An open circuit does
	// not degrade the service.
	Upstream UpstreamHealth
	// RateLimiter throttles /api/v1 when set
	RateLimiter *middleware.RateLimiter
}

// NewRouter builds the gin engine exposing deps
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Logger(log.StandardLogger()), middleware.ErrorHandler())

	router.GET("/health", healthHandler(deps.Database, deps.Upstream))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := router.Group("/api/v1")
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.RateLimit())
	}

	dagHandler := handlers.NewDAGHandler(deps.DAGs)
	runHandler := handlers.NewDAGRunHandler(deps.DAGs, deps.Queue, deps.Runs, deps.Backfill)
	taskHandler := handlers.NewTaskHandler(deps.Sync, deps.Factors)

	dags := v1.Group("/dags")
	{
		dags.GET("", dagHandler.ListDAGs)
		dags.POST("", dagHandler.CreateDAG)
		dags.POST("/validate", dagHandler.ValidateDAG)
		dags.GET("/:id", dagHandler.GetDAG)
		dags.PUT("/:id", dagHandler.UpdateDAG)
		dags.DELETE("/:id", dagHandler.DeleteDAG)
		dags.POST("/:id/run", runHandler.TriggerDAG)
		dags.GET("/:id/runs", runHandler.ListRuns)
		dags.POST("/:id/backfill", runHandler.Backfill)
	}

	v1.GET("/runs/:run_id", runHandler.GetRun)
	v1.GET("/jobs/:job_id", runHandler.GetJob)
	v1.GET("/backfills/:backfill_id", runHandler.GetBackfill)

	sync := v1.Group("/sync")
	{
		sync.POST("/run", taskHandler.SyncAll)
		sync.GET("/:task_id", taskHandler.SyncStatus)
		sync.POST("/:task_id/run", taskHandler.RunSync)
	}

	factors := v1.Group("/factors")
	{
		factors.GET("", taskHandler.ListFactors)
		factors.POST("/:factor_id/run", taskHandler.RunFactor)
		factors.GET("/:factor_id/runs", taskHandler.FactorRuns)
		factors.PUT("/:factor_id/preprocess", taskHandler.UpdatePreprocess)
	}

	return router
}

func healthHandler(db HealthChecker, upstream UpstreamHealth) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := dto.HealthResponse{Status: "healthy", Version: Version, Services: map[string]string{}}
		status := http.StatusOK
		if db != nil {
			if err := db.Health(c.Request.Context()); err != nil {
				resp.Status = "degraded"
				resp.Services["database"] = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				resp.Services["database"] = "ok"
			}
		}
		if upstream != nil {
			for _, stat := range upstream.BreakerStats() {
				resp.Services["upstream."+stat.Name] = stat.State
			}
		}
		c.JSON(status, resp)
	}
}
