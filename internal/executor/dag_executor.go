package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/state"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/tasklock"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/tradedate"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// ExecuteOptions describes one DAG run request
type ExecuteOptions struct {
	TargetDate  string
	RunType     models.RunType
	TriggerType models.TriggerType
	BackfillID  string
}

// DAGExecutor runs DAG definitions layer by layer on a bounded worker pool
type DAGExecutor struct {
	dags      storage.DAGConfigRepository
	logs      storage.RunLogRepository
	states    *state.Manager
	locker    tasklock.Locker
	metrics   *metrics.Recorder
	cfg       Config
	executors map[models.TaskType]TaskExecutor
	mu        sync.RWMutex
	now       func() time.Time
}

// NewDAGExecutor creates a new DAG executor. A nil state manager or locker
// falls back to a no-op publisher and an in-process lock.
func NewDAGExecutor(
	dags storage.DAGConfigRepository,
	logs storage.RunLogRepository,
	states *state.Manager,
	locker tasklock.Locker,
	recorder *metrics.Recorder,
	cfg Config,
) *DAGExecutor {
	if states == nil {
		states = state.NewManager(nil)
	}
	if locker == nil {
		locker = tasklock.NewLocalLocker()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}

	return &DAGExecutor{
		dags:      dags,
		logs:      logs,
		states:    states,
		locker:    locker,
		metrics:   recorder,
		cfg:       cfg,
		executors: make(map[models.TaskType]TaskExecutor),
		now:       time.Now,
	}
}

// RegisterTaskExecutor registers a task executor for its task type
func (e *DAGExecutor) RegisterTaskExecutor(executor TaskExecutor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[executor.Type()] = executor
}

// SetClock overrides the time source used for run timestamps
func (e *DAGExecutor) SetClock(now func() time.Time) {
	e.now = now
}

func (e *DAGExecutor) executorFor(taskType models.TaskType) (TaskExecutor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	te, ok := e.executors[taskType]
	return te, ok
}

// ExecuteDag loads a DAG definition and runs it to completion for one date.
// A returned error means no task was executed; task failures are reported
// through the run's status instead.
func (e *DAGExecutor) ExecuteDag(ctx context.Context, dagID string, opts ExecuteOptions) (*models.DAGRun, error) {
	def, err := e.dags.Get(ctx, dagID)
	if err != nil {
		return nil, fmt.Errorf("failed to load DAG %s: %w", dagID, err)
	}
	return e.Execute(ctx, def, opts)
}

// Execute runs an already loaded DAG definition
func (e *DAGExecutor) Execute(ctx context.Context, def *models.DAGDefinition, opts ExecuteOptions) (*models.DAGRun, error) {
	targetDate, err := tradedate.Normalize(opts.TargetDate)
	if err != nil {
		return nil, &dag.ConfigError{DAGID: def.DAGID, Reason: err.Error()}
	}

	run, err := dag.BuildDag(def)
	if err != nil {
		return nil, err
	}
	layers, err := dag.TopologicalSort(run)
	if err != nil {
		return nil, err
	}

	run.TargetDate = targetDate
	run.BackfillID = opts.BackfillID
	if opts.RunType != "" {
		run.RunType = opts.RunType
	}
	if opts.TriggerType != "" {
		run.TriggerType = opts.TriggerType
	}

	logger := log.WithFields(log.Fields{
		"dag_id":   run.DAGID,
		"run_id":   run.RunID,
		"date":     run.TargetDate,
		"run_type": run.RunType,
	})

	started := e.now()
	run.StartedAt = &started
	e.transitionRun(run, models.StateRunning)
	e.persistRun(ctx, run)
	logger.WithField("layers", len(layers)).Info("DAG run started")

	for i, layer := range layers {
		e.runLayer(ctx, run, layer)
		logger.WithField("layer", i).Debug("Layer finished")
	}

	final := models.StateSuccess
	for _, node := range run.Tasks {
		if node.Status == models.StateFailed {
			final = models.StateFailed
			break
		}
	}

	finished := e.now()
	run.FinishedAt = &finished
	e.transitionRun(run, final)
	e.persistRun(ctx, run)
	e.metrics.DAGRunFinished(run.DAGID, string(run.RunType), string(final))

	counts := run.Counts()
	logger.WithFields(log.Fields{
		"status":   final,
		"success":  counts[models.StateSuccess],
		"failed":   counts[models.StateFailed],
		"skipped":  counts[models.StateSkipped],
		"duration": finished.Sub(started).String(),
	}).Info("DAG run finished")

	return run, nil
}

// runLayer skips tasks with a failed or skipped dependency and runs the rest
// concurrently, returning once every task of the layer is terminal
func (e *DAGExecutor) runLayer(ctx context.Context, run *models.DAGRun, layer []string) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)

	for _, taskID := range layer {
		node := run.Tasks[taskID]

		if e.upstreamFailed(run, node) {
			e.skip(ctx, run, node)
			continue
		}

		e.transitionTask(run, node, models.StateWaiting)
		g.Go(func() error {
			e.runTask(ctx, run, node)
			return nil
		})
	}

	_ = g.Wait()
}

func (e *DAGExecutor) upstreamFailed(run *models.DAGRun, node *models.TaskNode) bool {
	for _, dep := range node.DependsOn {
		if upstream, ok := run.Tasks[dep]; ok {
			if upstream.Status == models.StateFailed || upstream.Status == models.StateSkipped {
				return true
			}
		}
	}
	return false
}

func (e *DAGExecutor) skip(ctx context.Context, run *models.DAGRun, node *models.TaskNode) {
	now := e.now()
	node.FinishedAt = &now
	node.ErrorMessage = SkipReason
	e.transitionTask(run, node, models.StateSkipped)
	e.persistTask(ctx, run, node)
	e.metrics.TaskFinished(string(node.TaskType), string(models.StateSkipped), 0)

	log.WithFields(log.Fields{
		"dag_id":  run.DAGID,
		"run_id":  run.RunID,
		"task_id": node.TaskID,
	}).Warn("Task skipped: dependency failed")
}

// runTask executes one waiting task and leaves it terminal
func (e *DAGExecutor) runTask(ctx context.Context, run *models.DAGRun, node *models.TaskNode) {
	logger := log.WithFields(log.Fields{
		"dag_id":    run.DAGID,
		"run_id":    run.RunID,
		"task_id":   node.TaskID,
		"task_type": node.TaskType,
	})

	te, ok := e.executorFor(node.TaskType)
	if !ok {
		e.fail(ctx, run, node, fmt.Errorf("%w: %q", ErrUnknownTaskType, node.TaskType), logger)
		return
	}

	lease, err := e.locker.TryAcquire(ctx, node.TaskID)
	if err != nil {
		e.fail(ctx, run, node, err, logger)
		return
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to release task lock")
		}
	}()

	started := e.now()
	node.StartedAt = &started
	e.transitionTask(run, node, models.StateRunning)
	e.persistTask(ctx, run, node)
	logger.Info("Task started")

	outcome, err := safeExecute(ctx, te, TaskRequest{
		DAGID:      run.DAGID,
		RunID:      run.RunID,
		TaskID:     node.TaskID,
		TaskType:   node.TaskType,
		TargetDate: run.TargetDate,
		RunType:    run.RunType,
	})

	finished := e.now()
	node.FinishedAt = &finished
	duration := finished.Sub(started)

	if err != nil {
		execErr := &TaskExecutionError{TaskID: node.TaskID, Err: err}
		node.ErrorMessage = err.Error()
		e.transitionTask(run, node, models.StateFailed)
		e.persistTask(ctx, run, node)
		e.metrics.TaskFinished(string(node.TaskType), string(models.StateFailed), duration)
		logger.WithError(execErr).WithField("blocked", blockedBy(run, node.TaskID)).Error("Task failed")
		return
	}

	if outcome != nil {
		node.RowsAffected = outcome.RowsAffected
	}
	e.transitionTask(run, node, models.StateSuccess)
	e.persistTask(ctx, run, node)
	e.metrics.TaskFinished(string(node.TaskType), string(models.StateSuccess), duration)
	logger.WithFields(log.Fields{
		"rows":     node.RowsAffected,
		"duration": duration.String(),
	}).Info("Task succeeded")
}

// fail marks a task failed before it started running
func (e *DAGExecutor) fail(ctx context.Context, run *models.DAGRun, node *models.TaskNode, err error, logger *log.Entry) {
	now := e.now()
	node.StartedAt = &now
	node.FinishedAt = &now
	node.ErrorMessage = err.Error()
	e.transitionTask(run, node, models.StateFailed)
	e.persistTask(ctx, run, node)
	e.metrics.TaskFinished(string(node.TaskType), string(models.StateFailed), 0)
	logger.WithError(&TaskExecutionError{TaskID: node.TaskID, Err: err}).
		WithField("blocked", blockedBy(run, node.TaskID)).
		Error("Task could not start")
}

// blockedBy lists the tasks a failure of taskID will skip
func blockedBy(run *models.DAGRun, taskID string) []string {
	downstream, err := dag.NewGraph(run).GetDownstreamTasks(taskID)
	if err != nil {
		return nil
	}
	return downstream
}

func safeExecute(ctx context.Context, te TaskExecutor, req TaskRequest) (outcome *TaskOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic occurred: %v", r)
		}
	}()
	return te.Execute(ctx, req)
}

func (e *DAGExecutor) transitionTask(run *models.DAGRun, node *models.TaskNode, to models.State) {
	e.transition(state.TransitionEvent{
		EntityType: state.EntityTask,
		EntityID:   node.TaskID,
		DAGID:      run.DAGID,
		RunID:      run.RunID,
		OldState:   node.Status,
		NewState:   to,
		At:         e.now(),
	})
	node.Status = to
}

func (e *DAGExecutor) transitionRun(run *models.DAGRun, to models.State) {
	e.transition(state.TransitionEvent{
		EntityType: state.EntityDAGRun,
		EntityID:   run.RunID,
		DAGID:      run.DAGID,
		RunID:      run.RunID,
		OldState:   run.Status,
		NewState:   to,
		At:         e.now(),
	})
	run.Status = to
}

// transition validates and announces a state change. Neither an invalid
// transition nor a publish failure stops execution.
func (e *DAGExecutor) transition(event state.TransitionEvent) {
	err := e.states.Transition(event)
	if err == nil {
		return
	}

	entry := log.WithFields(log.Fields{
		"dag_id": event.DAGID,
		"run_id": event.RunID,
		"entity": event.EntityID,
		"from":   event.OldState,
		"to":     event.NewState,
	}).WithError(err)

	if errors.Is(err, state.ErrInvalidTransition) {
		entry.Error("Invalid state transition")
		return
	}
	entry.Warn("Failed to publish state transition")
}

func (e *DAGExecutor) persistRun(ctx context.Context, run *models.DAGRun) {
	if err := e.logs.AppendRun(ctx, run); err != nil {
		log.WithFields(log.Fields{
			"dag_id": run.DAGID,
			"run_id": run.RunID,
			"status": run.Status,
		}).WithError(err).Warn("Failed to write DAG run log")
	}
}

func (e *DAGExecutor) persistTask(ctx context.Context, run *models.DAGRun, node *models.TaskNode) {
	if err := e.logs.AppendTask(ctx, run.RunID, node); err != nil {
		log.WithFields(log.Fields{
			"dag_id":  run.DAGID,
			"run_id":  run.RunID,
			"task_id": node.TaskID,
			"status":  node.Status,
		}).WithError(err).Warn("Failed to write DAG task log")
	}
}
