package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/tradedate"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// Advisory schedule tags and the cron expressions they stand for
var scheduleTags = map[string]string{
	"daily":   "0 18 * * 1-5",
	"weekly":  "0 18 * * 5",
	"monthly": "0 18 1 * *",
}

// ResolveSchedule maps a DAG schedule to a standard five-field cron
// expression. ok is false when the schedule is empty or not a cron expression.
func ResolveSchedule(schedule string) (expr string, ok bool) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return "", false
	}
	if mapped, found := scheduleTags[strings.ToLower(schedule)]; found {
		return mapped, true
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return "", false
	}
	return schedule, true
}

// CronScheduler enqueues scheduled DAG runs on every cron tick
type CronScheduler struct {
	cron     *cron.Cron
	location *time.Location
	queue    Queue
	entries  map[string]cron.EntryID // dagID -> entryID
	mu       sync.RWMutex
}

// NewCronScheduler creates a new cron scheduler
func NewCronScheduler(location *time.Location, queue Queue) *CronScheduler {
	if location == nil {
		location = time.Local
	}
	return &CronScheduler{
		cron:     cron.New(cron.WithLocation(location)),
		location: location,
		queue:    queue,
		entries:  make(map[string]cron.EntryID),
	}
}

// Start starts the cron scheduler
func (cs *CronScheduler) Start() {
	cs.cron.Start()
}

// Stop stops the cron scheduler and waits for running ticks
func (cs *CronScheduler) Stop() {
	ctx := cs.cron.Stop()
	<-ctx.Done()
}

// AddDAG registers a DAG with the cron scheduler
func (cs *CronScheduler) AddDAG(dagID, schedule string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.entries[dagID]; exists {
		return fmt.Errorf("DAG %s is already registered", dagID)
	}
	return cs.addLocked(dagID, schedule)
}

func (cs *CronScheduler) addLocked(dagID, schedule string) error {
	expr, ok := ResolveSchedule(schedule)
	if !ok {
		return fmt.Errorf("invalid cron expression %q for DAG %s", schedule, dagID)
	}

	entryID, err := cs.cron.AddFunc(expr, func() { cs.fire(dagID) })
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	cs.entries[dagID] = entryID
	log.WithFields(log.Fields{"dag_id": dagID, "cron": expr}).Info("DAG scheduled")
	return nil
}

// fire enqueues today's run of a DAG
func (cs *CronScheduler) fire(dagID string) {
	date := tradedate.Today(time.Now().In(cs.location))
	jobID, err := cs.queue.Enqueue(context.Background(), JobRequest{
		DAGID:       dagID,
		TargetDate:  date,
		TriggerType: models.TriggerSchedule,
		RunType:     models.RunTypeToday,
	})
	if err != nil {
		// Log error but don't stop the scheduler
		log.WithFields(log.Fields{"dag_id": dagID, "date": date}).WithError(err).Error("Failed to enqueue scheduled run")
		return
	}
	log.WithFields(log.Fields{"dag_id": dagID, "date": date, "job_id": jobID}).Info("Scheduled run enqueued")
}

// RemoveDAG removes a DAG from the cron scheduler
func (cs *CronScheduler) RemoveDAG(dagID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if entryID, exists := cs.entries[dagID]; exists {
		cs.cron.Remove(entryID)
		delete(cs.entries, dagID)
	}
}

// UpdateSchedule replaces the cron schedule of a DAG, registering it if needed
func (cs *CronScheduler) UpdateSchedule(dagID, schedule string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if entryID, exists := cs.entries[dagID]; exists {
		cs.cron.Remove(entryID)
		delete(cs.entries, dagID)
	}
	return cs.addLocked(dagID, schedule)
}

// GetScheduledDAGs returns all currently scheduled DAG IDs, sorted
func (cs *CronScheduler) GetScheduledDAGs() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	dagIDs := make([]string, 0, len(cs.entries))
	for dagID := range cs.entries {
		dagIDs = append(dagIDs, dagID)
	}
	sort.Strings(dagIDs)
	return dagIDs
}

// IsRegistered checks if a DAG is registered with the scheduler
func (cs *CronScheduler) IsRegistered(dagID string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	_, exists := cs.entries[dagID]
	return exists
}

// NextRun returns the next time a schedule fires after from
func NextRun(schedule string, from time.Time) (time.Time, error) {
	expr, ok := ResolveSchedule(schedule)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid cron expression %q", schedule)
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// GetNextExecution returns the next scheduled execution time for a DAG
func (cs *CronScheduler) GetNextExecution(dagID string) (*time.Time, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	entryID, exists := cs.entries[dagID]
	if !exists {
		return nil, fmt.Errorf("DAG %s is not registered", dagID)
	}

	entry := cs.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil, fmt.Errorf("entry not found for DAG %s", dagID)
	}

	next := entry.Next
	return &next, nil
}
