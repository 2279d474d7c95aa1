package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const (
	// JobsStream is the work-queue stream holding pending jobs
	JobsStream = "FACTORFLOW_JOBS"

	// JobsSubject is where job requests are published
	JobsSubject = "factorflow.jobs"

	// JobsBucket is the key-value bucket tracking job status by id
	JobsBucket = "factorflow_job_status"

	workersGroup = "factorflow-workers"
)

// NATSQueueConfig holds configuration for the JetStream job queue
type NATSQueueConfig struct {
	URL     string
	AckWait time.Duration
	MaxAge  time.Duration
}

// NATSQueue publishes jobs to a JetStream work queue so out-of-process
// workers can run them. Job status lives in a JetStream key-value bucket.
type NATSQueue struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	status nats.KeyValue
	config NATSQueueConfig
	now    func() time.Time
}

// NewNATSQueue connects to NATS and prepares the stream and status bucket
func NewNATSQueue(config NATSQueueConfig) (*NATSQueue, error) {
	if config.AckWait <= 0 {
		config.AckWait = time.Hour
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}

	nc, err := nats.Connect(config.URL, nats.Name("factorflow"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q := &NATSQueue{nc: nc, js: js, config: config, now: time.Now}
	if err := q.initStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return q, nil
}

func (q *NATSQueue) initStreams() error {
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:      JobsStream,
		Subjects:  []string{JobsSubject},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    q.config.MaxAge,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create jobs stream: %w", err)
	}

	kv, err := q.js.KeyValue(JobsBucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = q.js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: JobsBucket,
			TTL:    q.config.MaxAge,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to open job status bucket: %w", err)
	}
	q.status = kv
	return nil
}

// Close drains the connection
func (q *NATSQueue) Close() {
	if err := q.nc.Drain(); err != nil {
		q.nc.Close()
	}
}

// Enqueue implements Queue
func (q *NATSQueue) Enqueue(ctx context.Context, req JobRequest) (string, error) {
	job, err := newJob(req, q.now())
	if err != nil {
		return "", err
	}
	if err := q.save(job); err != nil {
		return "", err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	if _, err := q.js.Publish(JobsSubject, data, nats.Context(ctx), nats.MsgId(job.ID)); err != nil {
		return "", fmt.Errorf("failed to publish job: %w", err)
	}

	log.WithFields(log.Fields{
		"job_id":  job.ID,
		"dag_id":  job.Request.DAGID,
		"date":    job.Request.TargetDate,
		"trigger": job.Request.TriggerType,
	}).Info("Job published")
	return job.ID, nil
}

// Status implements Queue
func (q *NATSQueue) Status(_ context.Context, jobID string) (*Job, error) {
	entry, err := q.status.Get(jobID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}

	var job Job
	if err := json.Unmarshal(entry.Value(), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job status: %w", err)
	}
	return &job, nil
}

func (q *NATSQueue) save(job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if _, err := q.status.Put(job.ID, data); err != nil {
		return fmt.Errorf("failed to store job status: %w", err)
	}
	return nil
}

// Consume runs jobs from the stream until ctx is done. Workers sharing the
// queue group split the stream between them.
func (q *NATSQueue) Consume(ctx context.Context, runner DAGRunner) error {
	sub, err := q.js.QueueSubscribe(
		JobsSubject,
		workersGroup,
		func(msg *nats.Msg) { q.handle(ctx, runner, msg) },
		nats.Durable(workersGroup),
		nats.ManualAck(),
		nats.AckWait(q.config.AckWait),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to jobs: %w", err)
	}

	log.WithField("subject", JobsSubject).Info("Job consumer started")
	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		log.WithError(err).Warn("Failed to unsubscribe job consumer")
	}
	log.Info("Job consumer stopped")
	return nil
}

func (q *NATSQueue) handle(ctx context.Context, runner DAGRunner, msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		log.WithError(err).Error("Dropping malformed job message")
		_ = msg.Term()
		return
	}

	logger := log.WithFields(log.Fields{"job_id": job.ID, "dag_id": job.Request.DAGID})

	started := q.now()
	job.Status = JobRunning
	job.StartedAt = &started
	if err := q.save(&job); err != nil {
		logger.WithError(err).Warn("Failed to record job start")
	}

	// Keep the message while the run is in progress
	stopProgress := make(chan struct{})
	go func() {
		ticker := time.NewTicker(q.config.AckWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stopProgress:
				return
			case <-ticker.C:
				_ = msg.InProgress()
			}
		}
	}()

	runJob(ctx, runner, &job, q.now)
	close(stopProgress)

	if err := q.save(&job); err != nil {
		logger.WithError(err).Warn("Failed to record job result")
	}
	if err := msg.Ack(); err != nil {
		logger.WithError(err).Warn("Failed to ack job")
	}

	if job.Status == JobFailed {
		logger.WithField("error", job.Error).Error("Job failed")
		return
	}
	logger.WithFields(log.Fields{"run_id": job.RunID, "run_status": job.RunStatus}).Info("Job finished")
}
