package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// Config holds scheduler configuration
type Config struct {
	// ReloadInterval is how often stored DAG schedules are re-read
	ReloadInterval time.Duration

	// Timezone is the location cron expressions and "today" are evaluated in
	Timezone string
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		ReloadInterval: time.Minute,
		Timezone:       "Asia/Shanghai",
	}
}

// Scheduler keeps the cron trigger in step with the DAG config store and
// feeds triggered runs into a job queue
type Scheduler struct {
	config    Config
	dags      storage.DAGConfigRepository
	queue     Queue
	cron      *CronScheduler
	schedules map[string]string // dagID -> registered schedule

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Scheduler instance
func New(config Config, dags storage.DAGConfigRepository, queue Queue) *Scheduler {
	defaults := DefaultConfig()
	if config.ReloadInterval <= 0 {
		config.ReloadInterval = defaults.ReloadInterval
	}
	if config.Timezone == "" {
		config.Timezone = defaults.Timezone
	}
	return &Scheduler{
		config:    config,
		dags:      dags,
		queue:     queue,
		schedules: make(map[string]string),
	}
}

// Start registers every scheduled DAG and begins firing them
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	location, err := time.LoadLocation(s.config.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone: %w", err)
	}

	s.cron = NewCronScheduler(location, s.queue)
	if err := s.reloadLocked(ctx); err != nil {
		return fmt.Errorf("failed to load DAGs: %w", err)
	}
	s.cron.Start()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.reloadLoop(loopCtx)

	log.WithFields(log.Fields{
		"dags":     len(s.schedules),
		"timezone": s.config.Timezone,
	}).Info("Scheduler started")
	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.cron.Stop()

	log.Info("Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ScheduledDAGs returns the ids of the DAGs currently on the cron trigger
func (s *Scheduler) ScheduledDAGs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cron == nil {
		return nil
	}
	return s.cron.GetScheduledDAGs()
}

// TriggerDAG enqueues a manual run of a stored DAG
func (s *Scheduler) TriggerDAG(ctx context.Context, dagID, targetDate string) (string, error) {
	if _, err := s.dags.Get(ctx, dagID); err != nil {
		return "", fmt.Errorf("failed to get DAG: %w", err)
	}
	return s.queue.Enqueue(ctx, JobRequest{
		DAGID:       dagID,
		TargetDate:  targetDate,
		TriggerType: models.TriggerManual,
		RunType:     models.RunTypeToday,
	})
}

// Reload re-reads stored schedules now
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return fmt.Errorf("scheduler not started")
	}
	return s.reloadLocked(ctx)
}

func (s *Scheduler) reloadLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.reloadLocked(ctx)
			s.mu.Unlock()
			if err != nil {
				log.WithError(err).Warn("Failed to reload DAG schedules")
			}
		}
	}
}

// reloadLocked registers new or changed schedules and drops DAGs that were
// deleted or lost their schedule
func (s *Scheduler) reloadLocked(ctx context.Context) error {
	defs, err := s.dags.List(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if _, ok := ResolveSchedule(def.Schedule); !ok {
			continue
		}
		seen[def.DAGID] = true
		if s.schedules[def.DAGID] == def.Schedule {
			continue
		}
		if err := s.cron.UpdateSchedule(def.DAGID, def.Schedule); err != nil {
			log.WithField("dag_id", def.DAGID).WithError(err).Warn("Failed to register DAG schedule")
			continue
		}
		s.schedules[def.DAGID] = def.Schedule
	}

	for dagID := range s.schedules {
		if !seen[dagID] {
			s.cron.RemoveDAG(dagID)
			delete(s.schedules, dagID)
			log.WithField("dag_id", dagID).Info("DAG unscheduled")
		}
	}
	return nil
}
