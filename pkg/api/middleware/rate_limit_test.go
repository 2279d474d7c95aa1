package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/middleware"
)

func limitedRouter(limiter *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(limiter.RateLimit())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func get(router *gin.Engine, remote string) int {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("allows requests within burst", func(t *testing.T) {
		limiter := middleware.NewRateLimiter(10, 10)
		defer limiter.Stop()
		router := limitedRouter(limiter)

		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1234"))
		}
	})

	t.Run("rate limits excessive requests per client", func(t *testing.T) {
		limiter := middleware.NewRateLimiter(0.001, 2)
		defer limiter.Stop()
		router := limitedRouter(limiter)

		assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1234"))
		assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1234"))
		assert.Equal(t, http.StatusTooManyRequests, get(router, "10.0.0.1:1234"))

		// another client has its own budget
		assert.Equal(t, http.StatusOK, get(router, "10.0.0.2:1234"))
		assert.Equal(t, 2, limiter.Clients())
	})

	t.Run("non-positive rate disables limiting", func(t *testing.T) {
		limiter := middleware.NewRateLimiter(0, 0)
		defer limiter.Stop()
		router := limitedRouter(limiter)

		for i := 0; i < 20; i++ {
			assert.Equal(t, http.StatusOK, get(router, "10.0.0.1:1234"))
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		limiter := middleware.NewRateLimiter(10, 10)
		limiter.Stop()
		limiter.Stop()
	})
}
