package scheduler

import (
	"container/heap"
	"sync"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// Priority levels for queued jobs
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityMedium Priority = 1
	PriorityHigh   Priority = 2
)

// PriorityFor ranks a job by what triggered it: interactive triggers jump
// ahead of scheduled runs, and backfill days run last
func PriorityFor(trigger models.TriggerType) Priority {
	switch trigger {
	case models.TriggerManual, models.TriggerAPI:
		return PriorityHigh
	case models.TriggerBackfill:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

type queueItem struct {
	job      *Job
	priority Priority
	seq      uint64
	index    int
}

// jobHeap implements heap.Interface
type jobHeap []*queueItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	// Higher priority comes first
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	// FIFO within a priority
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// PriorityQueue is a thread-safe priority queue of pending jobs
type PriorityQueue struct {
	heap jobHeap
	seq  uint64
	mu   sync.Mutex
}

// NewPriorityQueue creates a new priority queue
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{heap: make(jobHeap, 0)}
	heap.Init(&pq.heap)
	return pq
}

// Push adds a job ranked by its trigger type
func (pq *PriorityQueue) Push(job *Job) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.seq++
	heap.Push(&pq.heap, &queueItem{job: job, priority: PriorityFor(job.Request.TriggerType), seq: pq.seq})
}

// Pop removes and returns the highest priority job, or nil when empty
func (pq *PriorityQueue) Pop() *Job {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&pq.heap).(*queueItem).job
}

// Peek returns the highest priority job without removing it
func (pq *PriorityQueue) Peek() *Job {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.heap.Len() == 0 {
		return nil
	}
	return pq.heap[0].job
}

// Len returns the number of pending jobs
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.heap.Len()
}

// IsEmpty returns true if the queue is empty
func (pq *PriorityQueue) IsEmpty() bool {
	return pq.Len() == 0
}
