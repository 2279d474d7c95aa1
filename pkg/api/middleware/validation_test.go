package middleware_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/middleware"
)

func validDAGRequest() dto.CreateDAGRequest {
	return dto.CreateDAGRequest{
		DAGID:    "daily_pipeline",
		Schedule: "daily",
		Tasks: []dto.TaskSpecRequest{
			{TaskID: "daily", TaskType: "sync"},
			{TaskID: "factor_ma_20", TaskType: "production", DependsOn: []string{"daily"}},
		},
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *dto.CreateDAGRequest)
		wantErr bool
	}{
		{name: "valid request", mutate: func(*dto.CreateDAGRequest) {}},
		{name: "cron expression", mutate: func(r *dto.CreateDAGRequest) { r.Schedule = "30 17 * * 1-5" }},
		{name: "no schedule", mutate: func(r *dto.CreateDAGRequest) { r.Schedule = "" }},
		{name: "missing dag id", mutate: func(r *dto.CreateDAGRequest) { r.DAGID = "" }, wantErr: true},
		{name: "dag id with spaces", mutate: func(r *dto.CreateDAGRequest) { r.DAGID = "daily pipeline" }, wantErr: true},
		{name: "bad schedule", mutate: func(r *dto.CreateDAGRequest) { r.Schedule = "every day" }, wantErr: true},
		{name: "no tasks", mutate: func(r *dto.CreateDAGRequest) { r.Tasks = nil }, wantErr: true},
		{name: "bad task type", mutate: func(r *dto.CreateDAGRequest) { r.Tasks[0].TaskType = "bash" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validDAGRequest()
			tt.mutate(&req)
			err := middleware.ValidateRequest(req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.NoError(t, middleware.ValidateRequest(dto.BackfillRequest{StartDate: "2024-01-01", EndDate: "20240131"}))
	assert.Error(t, middleware.ValidateRequest(dto.BackfillRequest{StartDate: "2024/01/01", EndDate: "20240131"}))
	assert.NoError(t, middleware.ValidateRequest(dto.FactorRunRequest{Mode: "full"}))
	assert.Error(t, middleware.ValidateRequest(dto.FactorRunRequest{Mode: "partial"}))
}

func bindContext(body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	httpReq := httptest.NewRequest(http.MethodPost, "/test", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httpReq
	return c, w
}

func TestBindAndValidate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("valid request", func(t *testing.T) {
		body, _ := json.Marshal(validDAGRequest())
		c, _ := bindContext(body)

		var bound dto.CreateDAGRequest
		assert.True(t, middleware.BindAndValidate(c, &bound))
		assert.Equal(t, "daily_pipeline", bound.DAGID)
		assert.Len(t, bound.ToDefinition().Tasks, 2)
	})

	t.Run("empty body binds zero value", func(t *testing.T) {
		c, _ := bindContext(nil)

		var bound dto.TriggerDAGRequest
		assert.True(t, middleware.BindAndValidate(c, &bound))
		assert.Empty(t, bound.TargetDate)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		c, w := bindContext([]byte("invalid json"))

		var bound dto.CreateDAGRequest
		assert.False(t, middleware.BindAndValidate(c, &bound))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure lists fields", func(t *testing.T) {
		req := validDAGRequest()
		req.Tasks[1].TaskID = ""
		body, _ := json.Marshal(req)
		c, w := bindContext(body)

		var bound dto.CreateDAGRequest
		assert.False(t, middleware.BindAndValidate(c, &bound))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "VALIDATION_ERROR", resp.Code)
		assert.Contains(t, resp.Details, "CreateDAGRequest.Tasks[1].TaskID")
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{scheduler.ErrJobNotFound, http.StatusNotFound},
		{storage.ErrAlreadyExists, http.StatusConflict},
		{&dag.CycleError{DAGID: "d", Tasks: []string{"a"}}, http.StatusBadRequest},
		{&dag.ConfigError{DAGID: "d", Reason: "no tasks"}, http.StatusBadRequest},
		{scheduler.ErrInvalidBackfill, http.StatusBadRequest},
		{scheduler.ErrQueueFull, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		got, _ := middleware.StatusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
