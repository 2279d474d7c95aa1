package models

import "time"

// ComputeMode selects incremental continuation or a full recompute
type ComputeMode string

const (
	ComputeIncremental ComputeMode = "incremental"
	ComputeFull        ComputeMode = "full"
)

// AdjustMode selects how OHLC prices are rescaled by the adjustment factor
type AdjustMode string

const (
	AdjustNone     AdjustMode = "none"
	AdjustForward  AdjustMode = "forward"
	AdjustBackward AdjustMode = "backward"
)

// PreprocessOptions controls the data preparation done before a factor computes
type PreprocessOptions struct {
	AdjustPrice      AdjustMode `json:"adjust_price" mapstructure:"adjust_price"`
	FilterST         bool       `json:"filter_st" mapstructure:"filter_st"`
	FilterNewStock   bool       `json:"filter_new_stock" mapstructure:"filter_new_stock"`
	NewStockDays     int        `json:"new_stock_days" mapstructure:"new_stock_days"`
	HandleSuspension bool       `json:"handle_suspension" mapstructure:"handle_suspension"`
	MarkLimit        bool       `json:"mark_limit" mapstructure:"mark_limit"`
}

// DefaultPreprocess returns the global preprocess defaults
func DefaultPreprocess() PreprocessOptions {
	return PreprocessOptions{
		AdjustPrice:      AdjustForward,
		FilterST:         true,
		FilterNewStock:   true,
		NewStockDays:     60,
		HandleSuspension: true,
		MarkLimit:        true,
	}
}

// QualityFlag is a bitmask annotating a computed factor value
type QualityFlag int32

const (
	QualityNormal         QualityFlag = 0
	QualityLimitUp        QualityFlag = 1
	QualityLimitDown      QualityFlag = 2
	QualityPostSuspension QualityFlag = 4
	QualityLowVolume      QualityFlag = 8
	QualityIPOPeriod      QualityFlag = 16
)

// Has reports whether every bit of other is set
func (q QualityFlag) Has(other QualityFlag) bool {
	return q&other == other
}

// FactorMetadata is the persisted bookkeeping row of one factor
type FactorMetadata struct {
	FactorID         string         `json:"factor_id"`
	Description      string         `json:"description"`
	Category         string         `json:"category"`
	ComputeMode      ComputeMode    `json:"compute_mode"`
	StorageTarget    string         `json:"storage_target"`
	Params           map[string]any `json:"params"`
	LastComputedDate string         `json:"last_computed_date,omitempty"`
	LastComputedAt   *time.Time     `json:"last_computed_at,omitempty"`
}

// FactorRun is one run-audit record of the factor producer
type FactorRun struct {
	ID              uint        `json:"id"`
	FactorID        string      `json:"factor_id"`
	Mode            ComputeMode `json:"mode"`
	Status          State       `json:"status"`
	StartDate       string      `json:"start_date,omitempty"`
	EndDate         string      `json:"end_date,omitempty"`
	RowsAffected    int64       `json:"rows_affected"`
	DurationSeconds float64     `json:"duration_seconds"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}
