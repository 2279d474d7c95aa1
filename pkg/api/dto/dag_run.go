package dto

import "github.com/therealutkarshpriyadarshi/factorflow/pkg/models"

// TriggerDAGRequest represents the request to enqueue a DAG run
type TriggerDAGRequest struct {
	TargetDate string `json:"target_date" validate:"omitempty,tradedate"`
	RunType    string `json:"run_type" validate:"omitempty,oneof=today backfill"`
}

// TriggerDAGResponse carries the id of the queued job
type TriggerDAGResponse struct {
	JobID string `json:"job_id"`
	DAGID string `json:"dag_id"`
}

// BackfillRequest represents the request to backfill a DAG over a date range
type BackfillRequest struct {
	StartDate string `json:"start_date" validate:"required,tradedate"`
	EndDate   string `json:"end_date" validate:"required,tradedate"`
}

// RunListResponse represents a list of DAG runs, newest first
type RunListResponse struct {
	Runs  []*models.RunRecord `json:"runs"`
	Total int                 `json:"total"`
}
