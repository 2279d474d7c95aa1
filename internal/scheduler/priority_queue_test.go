package scheduler

import (
	"sync"
	"testing"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

func queuedJob(id string, trigger models.TriggerType) *Job {
	return &Job{ID: id, Request: JobRequest{DAGID: "dag-1", TriggerType: trigger}, Status: JobQueued}
}

func TestPriorityQueue(t *testing.T) {
	t.Run("NewPriorityQueue creates empty queue", func(t *testing.T) {
		pq := NewPriorityQueue()
		if pq.Len() != 0 {
			t.Errorf("expected empty queue, got length %d", pq.Len())
		}
		if !pq.IsEmpty() {
			t.Error("expected queue to be empty")
		}
		if pq.Pop() != nil {
			t.Error("expected nil from empty queue")
		}
		if pq.Peek() != nil {
			t.Error("expected nil peek from empty queue")
		}
	})

	t.Run("Jobs ordered by trigger priority", func(t *testing.T) {
		pq := NewPriorityQueue()
		pq.Push(queuedJob("backfill", models.TriggerBackfill))
		pq.Push(queuedJob("schedule", models.TriggerSchedule))
		pq.Push(queuedJob("manual", models.TriggerManual))

		want := []string{"manual", "schedule", "backfill"}
		for _, id := range want {
			got := pq.Pop()
			if got == nil || got.ID != id {
				t.Fatalf("expected %s, got %+v", id, got)
			}
		}
	})

	t.Run("FIFO order for same priority", func(t *testing.T) {
		pq := NewPriorityQueue()
		for _, id := range []string{"d1", "d2", "d3"} {
			pq.Push(queuedJob(id, models.TriggerBackfill))
		}

		for _, id := range []string{"d1", "d2", "d3"} {
			if got := pq.Pop(); got.ID != id {
				t.Errorf("expected %s, got %s", id, got.ID)
			}
		}
	})

	t.Run("Peek without removing", func(t *testing.T) {
		pq := NewPriorityQueue()
		pq.Push(queuedJob("api", models.TriggerAPI))

		if peeked := pq.Peek(); peeked.ID != "api" {
			t.Errorf("expected api, got %s", peeked.ID)
		}
		if pq.Len() != 1 {
			t.Errorf("expected length 1 after peek, got %d", pq.Len())
		}
	})

	t.Run("Concurrent push and pop", func(t *testing.T) {
		pq := NewPriorityQueue()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pq.Push(queuedJob("j", models.TriggerSchedule))
			}()
		}
		wg.Wait()

		popped := 0
		for pq.Pop() != nil {
			popped++
		}
		if popped != 50 {
			t.Errorf("expected 50 jobs, got %d", popped)
		}
	})
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		trigger models.TriggerType
		want    Priority
	}{
		{models.TriggerManual, PriorityHigh},
		{models.TriggerAPI, PriorityHigh},
		{models.TriggerSchedule, PriorityMedium},
		{models.TriggerBackfill, PriorityLow},
		{"", PriorityMedium},
	}

	for _, tt := range tests {
		if got := PriorityFor(tt.trigger); got != tt.want {
			t.Errorf("PriorityFor(%q) = %d, want %d", tt.trigger, got, tt.want)
		}
	}
}
