package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSQueue_Integration(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	q, err := NewNATSQueue(NATSQueueConfig{URL: url, AckWait: time.Minute})
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{}
	go func() { _ = q.Consume(ctx, runner) }()

	id, err := q.Enqueue(ctx, JobRequest{DAGID: "daily", TargetDate: "20240105"})
	require.NoError(t, err)

	job := waitForStatus(t, q, id, JobDone)
	assert.Equal(t, "run-20240105", job.RunID)

	_, err = q.Status(ctx, "missing-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
