package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/executor"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/tradedate"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

var (
	// ErrJobNotFound is returned when polling an unknown job id
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueFull is returned when the pending queue is at capacity
	ErrQueueFull = errors.New("job queue is full")

	// ErrQueueStopped is returned when enqueueing after shutdown
	ErrQueueStopped = errors.New("job queue is stopped")

	// ErrInvalidJob is returned for a malformed job request
	ErrInvalidJob = errors.New("invalid job request")
)

// JobStatus is the lifecycle of a queued DAG run request
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// JobRequest asks for one DAG run
type JobRequest struct {
	DAGID       string             `json:"dag_id"`
	TargetDate  string             `json:"target_date,omitempty"`
	TriggerType models.TriggerType `json:"trigger_type"`
	RunType     models.RunType     `json:"run_type"`
}

// Job is a request plus its progress. RunStatus is the outcome of the DAG run
// once the job is done; a done job may still carry a failed run.
type Job struct {
	ID         string       `json:"job_id"`
	Request    JobRequest   `json:"request"`
	Status     JobStatus    `json:"status"`
	RunID      string       `json:"run_id,omitempty"`
	RunStatus  models.State `json:"run_status,omitempty"`
	Error      string       `json:"error,omitempty"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Queue is the trigger boundary in front of the DAG executor
type Queue interface {
	Enqueue(ctx context.Context, req JobRequest) (string, error)
	Status(ctx context.Context, jobID string) (*Job, error)
}

// newJob validates a request and fills its defaults
func newJob(req JobRequest, now time.Time) (*Job, error) {
	if req.DAGID == "" {
		return nil, fmt.Errorf("%w: dag_id is required", ErrInvalidJob)
	}
	date, err := tradedate.Normalize(req.TargetDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	req.TargetDate = date
	if req.TriggerType == "" {
		req.TriggerType = models.TriggerAPI
	}
	if req.RunType == "" {
		req.RunType = models.RunTypeToday
	}

	return &Job{
		ID:         uuid.New().String(),
		Request:    req,
		Status:     JobQueued,
		EnqueuedAt: now,
	}, nil
}

// runJob executes a job against the runner and records the outcome on it
func runJob(ctx context.Context, runner DAGRunner, job *Job, now func() time.Time) {
	run, err := runner.ExecuteDag(ctx, job.Request.DAGID, executor.ExecuteOptions{
		TargetDate:  job.Request.TargetDate,
		RunType:     job.Request.RunType,
		TriggerType: job.Request.TriggerType,
	})

	finished := now()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		return
	}

	job.Status = JobDone
	job.RunID = run.RunID
	job.RunStatus = run.Status
}
