package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/production"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/dto"
)

// ErrorHandler is a middleware that handles errors and panics
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithField("path", c.Request.URL.Path).Errorf("panic in handler: %v", err)
				c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
					Error:   "Internal Server Error",
					Message: "An unexpected error occurred",
					Code:    "INTERNAL_ERROR",
				})
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			status, code := StatusFor(err)
			c.JSON(status, dto.ErrorResponse{
				Error:   http.StatusText(status),
				Message: err.Error(),
				Code:    code,
			})
		}
	}
}

// StatusFor maps a core error to an HTTP status and error code
func StatusFor(err error) (int, string) {
	var cycle *dag.CycleError
	var unknown *dag.UnknownDependencyError
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, scheduler.ErrJobNotFound),
		errors.Is(err, production.ErrFactorNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.As(err, &cycle):
		return http.StatusBadRequest, "DAG_CYCLE"
	case errors.As(err, &unknown):
		return http.StatusBadRequest, "UNKNOWN_DEPENDENCY"
	case errors.Is(err, dag.ErrInvalidDAG):
		return http.StatusBadRequest, "INVALID_DAG"
	case errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, scheduler.ErrInvalidBackfill),
		errors.Is(err, scheduler.ErrInvalidJob):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, scheduler.ErrQueueFull), errors.Is(err, scheduler.ErrQueueStopped):
		return http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// AbortWithCoreError aborts with the status StatusFor picks for err
func AbortWithCoreError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	AbortWithError(c, status, code, err.Error())
}

// AbortWithError is a helper function to abort with a specific error
func AbortWithError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	})
	c.Abort()
}

// AbortWithErrorDetails is a helper function to abort with error details
func AbortWithErrorDetails(c *gin.Context, statusCode int, code, message string, details map[string]interface{}) {
	c.JSON(statusCode, dto.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
		Details: details,
	})
	c.Abort()
}
