package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/config"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/executor"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/testutil"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Driver = storage.DriverSQLite
	return cfg
}

func TestStorageConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Name = "quant"

	sc := StorageConfig(cfg.Database)
	assert.Equal(t, "quant", sc.DBName)
	assert.Equal(t, storage.DriverSQLite, sc.Driver)
	assert.Equal(t, cfg.Database.MaxConns, sc.MaxConns)
}

func TestNewWithDB_WiresFactorsAndQueue(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewWithDB(cfg, storage.NewMemoryDB(t))
	require.NoError(t, err)

	summaries, err := a.Production.ListFactors(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.FactorID)
	}
	assert.Contains(t, ids, "factor_momentum_20")
	assert.Contains(t, ids, "factor_rsi_14")

	q, err := a.NewQueue()
	require.NoError(t, err)
	_, ok := q.(*scheduler.JobQueue)
	assert.True(t, ok)
}

func TestNewWithDB_RejectsRedisLockWithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Executor.TaskLock = config.LockRedis

	_, err := NewWithDB(cfg, storage.NewMemoryDB(t))
	assert.Error(t, err)
}

func TestNewWithDB_UnknownFactorFailsTaskNotRun(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewWithDB(cfg, storage.NewMemoryDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	def := dag.NewBuilder("adhoc").Production("factor_missing").MustBuild()
	require.NoError(t, a.DAGs.Create(ctx, def))

	run, err := a.Executor.ExecuteDag(ctx, "adhoc", executor.ExecuteOptions{TargetDate: "20240105"})
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, run.Status)
	assert.Equal(t, models.StateFailed, run.Tasks["factor_missing"].Status)
	assert.NotEmpty(t, run.Tasks["factor_missing"].ErrorMessage)
}

func TestImport_CreatesThenReplaces(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewWithDB(cfg, storage.NewMemoryDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	bundle := &dag.Bundle{
		DAGs:      []*models.DAGDefinition{testutil.CreateDailyDAG("daily_pipeline")},
		SyncTasks: []*models.SyncTaskConfig{testutil.CreateSyncConfig("sync_daily", "sync_daily")},
	}

	result, err := a.Import(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{DAGsCreated: 1, SyncTasksCreated: 1}, result)

	bundle.DAGs[0].Description = "replaced"
	result, err = a.Import(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{DAGsUpdated: 1, SyncTasksUpdated: 1}, result)

	def, err := a.DAGs.Get(ctx, "daily_pipeline")
	require.NoError(t, err)
	assert.Equal(t, "replaced", def.Description)
}
