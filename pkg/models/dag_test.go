package models

import (
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"Success is terminal", StateSuccess, true},
		{"Failed is terminal", StateFailed, true},
		{"Skipped is terminal", StateSkipped, true},
		{"Pending is not terminal", StatePending, false},
		{"Waiting is not terminal", StateWaiting, false},
		{"Running is not terminal", StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.state.IsTerminal()
			if got != tt.expected {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTaskType_Valid(t *testing.T) {
	tests := []struct {
		taskType TaskType
		expected bool
	}{
		{TaskTypeSync, true},
		{TaskTypeProduction, true},
		{TaskType("bash"), false},
		{TaskType(""), false},
	}

	for _, tt := range tests {
		if got := tt.taskType.Valid(); got != tt.expected {
			t.Errorf("TaskType(%q).Valid() = %v, want %v", tt.taskType, got, tt.expected)
		}
	}
}

func TestDAGRun_Counts(t *testing.T) {
	run := &DAGRun{
		Tasks: map[string]*TaskNode{
			"a": {TaskID: "a", Status: StateSuccess},
			"b": {TaskID: "b", Status: StateFailed},
			"c": {TaskID: "c", Status: StateSkipped},
			"d": {TaskID: "d", Status: StateSkipped},
		},
	}

	counts := run.Counts()
	if counts[StateSuccess] != 1 {
		t.Errorf("success count = %d, want 1", counts[StateSuccess])
	}
	if counts[StateFailed] != 1 {
		t.Errorf("failed count = %d, want 1", counts[StateFailed])
	}
	if counts[StateSkipped] != 2 {
		t.Errorf("skipped count = %d, want 2", counts[StateSkipped])
	}
}

func TestQualityFlag_Combinable(t *testing.T) {
	flag := QualityLimitUp | QualityPostSuspension | QualityIPOPeriod

	if !flag.Has(QualityLimitUp) {
		t.Error("expected limit-up bit")
	}
	if !flag.Has(QualityPostSuspension) {
		t.Error("expected post-suspension bit")
	}
	if flag.Has(QualityLimitDown) {
		t.Error("unexpected limit-down bit")
	}
	if int32(flag) != 21 {
		t.Errorf("flag = %d, want 21", flag)
	}
}

func TestDefaultPreprocess(t *testing.T) {
	opts := DefaultPreprocess()
	if opts.AdjustPrice != AdjustForward {
		t.Errorf("AdjustPrice = %s, want forward", opts.AdjustPrice)
	}
	if opts.NewStockDays != 60 {
		t.Errorf("NewStockDays = %d, want 60", opts.NewStockDays)
	}
	if !opts.FilterST || !opts.FilterNewStock || !opts.HandleSuspension || !opts.MarkLimit {
		t.Errorf("expected all filters enabled by default, got %+v", opts)
	}
}
