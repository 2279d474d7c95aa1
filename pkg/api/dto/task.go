package dto

import "github.com/therealutkarshpriyadarshi/factorflow/pkg/models"

// SyncRunRequest represents the request to run one sync task
type SyncRunRequest struct {
	TargetDate string `json:"target_date" validate:"omitempty,tradedate"`
	EndDate    string `json:"end_date" validate:"omitempty,tradedate"`
}

// SyncAllResponse maps task id to its sync outcome
type SyncAllResponse struct {
	Results map[string]bool `json:"results"`
}

// FactorRunRequest represents the request to run one factor
type FactorRunRequest struct {
	TargetDate string                 `json:"target_date" validate:"omitempty,tradedate"`
	StartDate  string                 `json:"start_date" validate:"omitempty,tradedate"`
	EndDate    string                 `json:"end_date" validate:"omitempty,tradedate"`
	Mode       string                 `json:"mode" validate:"omitempty,oneof=incremental full"`
	Preprocess map[string]interface{} `json:"preprocess"`
}

// PreprocessUpdateRequest replaces the stored preprocess override of a factor
type PreprocessUpdateRequest struct {
	Preprocess map[string]interface{} `json:"preprocess" validate:"required"`
}

// PreprocessResponse carries the settings a factor now runs with
type PreprocessResponse struct {
	FactorID   string                   `json:"factor_id"`
	Preprocess models.PreprocessOptions `json:"preprocess"`
}
