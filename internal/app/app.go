package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/circuitbreaker"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/config"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/executor"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/factors"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/production"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/ratelimit"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/retry"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/state"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/syncer"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/tasklock"
)

// App holds every wired component of a factorflow process
type App struct {
	Config *config.Config
	DB     *storage.DB
	Redis  *redis.Client

	DAGs        storage.DAGConfigRepository
	SyncConfigs storage.SyncConfigRepository
	Runs        storage.RunLogRepository
	Watermarks  storage.WatermarkRepository
	FactorRepo  storage.FactorRepository
	Tables      *storage.TableStore

	Metrics    *metrics.Recorder
	Upstream   *syncer.Client
	Syncer     *syncer.Executor
	Production *production.Engine
	Executor   *executor.DAGExecutor
	Backfill   *scheduler.BackfillEngine

	closers []func() error
}

// StorageConfig maps the database section onto the storage layer config
func StorageConfig(cfg config.DatabaseConfig) *storage.Config {
	return &storage.Config{
		Driver:      cfg.Driver,
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		DBName:      cfg.Name,
		SSLMode:     cfg.SSLMode,
		Path:        cfg.Path,
		MaxConns:    cfg.MaxConns,
		MinConns:    cfg.MinConns,
		MaxIdleTime: cfg.MaxIdleTime,
		MaxLifetime: cfg.MaxLifetime,
		LogLevel:    cfg.LogLevel,
	}
}

// New opens the database and wires the executors from cfg
func New(cfg *config.Config) (*App, error) {
	dbCfg := StorageConfig(cfg.Database)
	db, err := storage.NewDB(dbCfg)
	if err != nil {
		return nil, err
	}
	log.WithField("driver", db.Driver()).Info("Database connection established")

	a := &App{Config: cfg, DB: db}
	a.closers = append(a.closers, db.Close)

	if cfg.Database.Migrations {
		if err := storage.Migrate(db, dbCfg); err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		log.WithField("addr", cfg.Redis.Addr).Info("Redis connection established")
	}

	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewWithDB wires the components over an already opened database
func NewWithDB(cfg *config.Config, db *storage.DB) (*App, error) {
	a := &App{Config: cfg, DB: db}
	if err := a.wire(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config
	gdb := a.DB.DB

	a.DAGs = storage.NewDAGConfigRepository(gdb)
	a.SyncConfigs = storage.NewSyncConfigRepository(gdb)
	a.Runs = storage.NewRunLogRepository(gdb)
	a.Watermarks = storage.NewWatermarkRepository(gdb)
	a.FactorRepo = storage.NewFactorRepository(gdb)
	a.Tables = storage.NewTableStore(gdb)
	a.Metrics = metrics.NewRecorder()

	provider := syncer.NewTushareProvider(cfg.Upstream.BaseURL, cfg.Upstream.Token, cfg.Upstream.Timeout)
	retryCfg := retry.NewConfig(cfg.Upstream.RetryTimes,
		retry.NewExponentialBackoff(cfg.Upstream.RetryDelay, time.Minute, false))
	client := syncer.NewClient(provider, ratelimit.NewPerMinute(cfg.Upstream.CallsPerMinute), retryCfg, a.Metrics).
		WithBreakers(circuitbreaker.NewGroup(circuitbreaker.Config{
			MaxFailures: cfg.Upstream.BreakerFailures,
			Cooldown:    cfg.Upstream.BreakerCooldown,
			IsFailure:   syncer.IsUpstreamFailure,
		}))
	a.Upstream = client
	a.Syncer = syncer.NewExecutor(client, a.Tables, a.Watermarks, a.SyncConfigs, a.Metrics)

	prodCfg := production.DefaultConfig()
	if cfg.Production.LookbackDays > 0 {
		prodCfg.LookbackDays = cfg.Production.LookbackDays
	}
	if cfg.Production.DefaultStart != "" {
		prodCfg.DefaultStart = cfg.Production.DefaultStart
	}
	preprocess, err := production.ResolvePreprocess(prodCfg.Preprocess, cfg.Production.Preprocess)
	if err != nil {
		return err
	}
	prodCfg.Preprocess = preprocess

	registry := production.NewRegistry()
	if err := factors.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register factors: %w", err)
	}
	a.Production = production.NewEngine(registry, a.FactorRepo, a.Tables, a.Metrics, prodCfg)

	locker, err := a.newLocker()
	if err != nil {
		return err
	}
	a.Executor = executor.NewDAGExecutor(a.DAGs, a.Runs, state.NewManager(a.newPublisher()), locker, a.Metrics,
		executor.Config{Workers: cfg.Executor.Workers})
	a.Executor.RegisterTaskExecutor(executor.NewSyncTaskExecutor(a.Syncer))
	a.Executor.RegisterTaskExecutor(executor.NewProductionTaskExecutor(a.Production))

	a.Backfill = scheduler.NewBackfillEngine(a.Executor, scheduler.BackfillConfig{})
	return nil
}

func (a *App) newLocker() (tasklock.Locker, error) {
	switch a.Config.Executor.TaskLock {
	case config.LockRedis:
		if a.Redis == nil {
			return nil, fmt.Errorf("redis task lock requires redis.enabled")
		}
		return tasklock.NewRedisLocker(a.Redis, a.Config.Executor.LockTTL), nil
	case config.LockNone:
		return tasklock.NoopLocker{}, nil
	default:
		return tasklock.NewLocalLocker(), nil
	}
}

func (a *App) newPublisher() state.EventPublisher {
	if a.Redis == nil {
		return &state.NoOpPublisher{}
	}
	return state.NewMultiPublisher(state.NewRedisPublisher(a.Redis), state.LogPublisher{})
}

// NewQueue builds the job queue the config selects. The in-process queue runs
// jobs through the local DAG executor; the NATS queue only publishes.
func (a *App) NewQueue() (scheduler.Queue, error) {
	if a.Config.NATS.Enabled {
		q, err := a.NewNATSQueue()
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	return scheduler.NewJobQueue(a.Executor, scheduler.JobQueueConfig{
		Workers:  a.Config.Executor.JobWorker,
		Capacity: a.Config.Executor.QueueSize,
	}, a.Metrics), nil
}

// NewNATSQueue connects the JetStream job queue and closes it with the app
func (a *App) NewNATSQueue() (*scheduler.NATSQueue, error) {
	q, err := scheduler.NewNATSQueue(scheduler.NATSQueueConfig{
		URL:     a.Config.NATS.URL,
		AckWait: a.Config.NATS.AckWait,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { q.Close(); return nil })
	return q, nil
}

// NewScheduler builds the cron trigger feeding queue
func (a *App) NewScheduler(queue scheduler.Queue) *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{
		ReloadInterval: a.Config.Scheduler.ReloadInterval,
		Timezone:       a.Config.Scheduler.Timezone,
	}, a.DAGs, queue)
}

// Close releases every connection opened by the app, newest first
func (a *App) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}

// ImportResult counts what Import wrote
type ImportResult struct {
	DAGsCreated      int `json:"dags_created"`
	DAGsUpdated      int `json:"dags_updated"`
	SyncTasksCreated int `json:"sync_tasks_created"`
	SyncTasksUpdated int `json:"sync_tasks_updated"`
}

// Import seeds a parsed definition file into the config stores. Existing
// entries with the same id are replaced.
func (a *App) Import(ctx context.Context, bundle *dag.Bundle) (*ImportResult, error) {
	result := &ImportResult{}

	for _, cfg := range bundle.SyncTasks {
		err := a.SyncConfigs.Create(ctx, cfg)
		switch {
		case err == nil:
			result.SyncTasksCreated++
		case errors.Is(err, storage.ErrAlreadyExists):
			if err := a.SyncConfigs.Update(ctx, cfg.TaskID, cfg); err != nil {
				return result, err
			}
			result.SyncTasksUpdated++
		default:
			return result, err
		}
	}

	for _, def := range bundle.DAGs {
		err := a.DAGs.Create(ctx, def)
		switch {
		case err == nil:
			result.DAGsCreated++
		case errors.Is(err, storage.ErrAlreadyExists):
			if err := a.DAGs.Update(ctx, def.DAGID, def); err != nil {
				return result, err
			}
			result.DAGsUpdated++
		default:
			return result, err
		}
	}

	log.WithFields(log.Fields{
		"dags_created":       result.DAGsCreated,
		"dags_updated":       result.DAGsUpdated,
		"sync_tasks_created": result.SyncTasksCreated,
		"sync_tasks_updated": result.SyncTasksUpdated,
	}).Info("Definitions imported")
	return result, nil
}
