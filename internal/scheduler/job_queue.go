package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/metrics"
)

// JobQueueConfig holds configuration for the in-process job queue
type JobQueueConfig struct {
	// Workers is the number of DAG runs executed at the same time
	Workers int

	// Capacity bounds the number of pending jobs
	Capacity int

	// ShutdownTimeout bounds how long Stop waits for running jobs
	ShutdownTimeout time.Duration
}

// DefaultJobQueueConfig returns default configuration
func DefaultJobQueueConfig() JobQueueConfig {
	return JobQueueConfig{
		Workers:         1,
		Capacity:        100,
		ShutdownTimeout: 30 * time.Second,
	}
}

// JobQueue runs queued DAG run requests on a fixed set of in-process workers
type JobQueue struct {
	runner  DAGRunner
	config  JobQueueConfig
	metrics *metrics.Recorder
	pending *PriorityQueue
	ready   chan struct{}

	jobs    map[string]*Job
	mu      sync.RWMutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewJobQueue creates a new in-process job queue
func NewJobQueue(runner DAGRunner, config JobQueueConfig, recorder *metrics.Recorder) *JobQueue {
	defaults := DefaultJobQueueConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	return &JobQueue{
		runner:  runner,
		config:  config,
		metrics: recorder,
		pending: NewPriorityQueue(),
		ready:   make(chan struct{}, config.Capacity),
		jobs:    make(map[string]*Job),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
}

// Start launches the workers
func (q *JobQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return fmt.Errorf("job queue already running")
	}
	q.running = true

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}

	log.WithField("workers", q.config.Workers).Info("Job queue started")
	return nil
}

// Stop stops accepting jobs and waits for running ones to finish
func (q *JobQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stop)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Job queue stopped gracefully")
	case <-time.After(q.config.ShutdownTimeout):
		log.Warn("Job queue shutdown timeout reached")
	}
}

// Enqueue implements Queue
func (q *JobQueue) Enqueue(_ context.Context, req JobRequest) (string, error) {
	job, err := newJob(req, q.now())
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return "", ErrQueueStopped
	}
	if q.pending.Len() >= q.config.Capacity {
		q.mu.Unlock()
		return "", ErrQueueFull
	}
	q.jobs[job.ID] = job
	q.pending.Push(job)
	q.ready <- struct{}{}
	depth := q.pending.Len()
	q.mu.Unlock()

	q.metrics.SetJobsQueued(depth)
	log.WithFields(log.Fields{
		"job_id":  job.ID,
		"dag_id":  job.Request.DAGID,
		"date":    job.Request.TargetDate,
		"trigger": job.Request.TriggerType,
	}).Info("Job enqueued")
	return job.ID, nil
}

// Status implements Queue. The returned job is a snapshot.
func (q *JobQueue) Status(_ context.Context, jobID string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	snapshot := *job
	return &snapshot, nil
}

// Pending returns the number of jobs waiting for a worker
func (q *JobQueue) Pending() int {
	return q.pending.Len()
}

func (q *JobQueue) work(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case <-q.ready:
		}

		q.mu.Lock()
		job := q.pending.Pop()
		if job == nil {
			q.mu.Unlock()
			continue
		}
		started := q.now()
		job.Status = JobRunning
		job.StartedAt = &started
		depth := q.pending.Len()
		q.mu.Unlock()
		q.metrics.SetJobsQueued(depth)

		logger := log.WithFields(log.Fields{"job_id": job.ID, "dag_id": job.Request.DAGID, "worker": id})
		logger.Info("Job started")

		result := *job
		runJob(ctx, q.runner, &result, q.now)

		q.mu.Lock()
		*job = result
		q.mu.Unlock()

		if result.Status == JobFailed {
			logger.WithField("error", result.Error).Error("Job failed")
		} else {
			logger.WithFields(log.Fields{"run_id": result.RunID, "run_status": result.RunStatus}).Info("Job finished")
		}
	}
}
