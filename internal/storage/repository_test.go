package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

func testDefinition(id string) *models.DAGDefinition {
	return dag.NewBuilder(id).
		Description("daily pipeline").
		Schedule("daily").
		Sync("sync_daily").
		Production("factor_momentum_20", "sync_daily").
		MustBuild()
}

func TestDAGConfigRepository_CRUD(t *testing.T) {
	db := NewMemoryDB(t)
	repo := NewDAGConfigRepository(db.DB)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testDefinition("daily")))
	assert.ErrorIs(t, repo.Create(ctx, testDefinition("daily")), ErrAlreadyExists)

	got, err := repo.Get(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, "daily pipeline", got.Description)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, []string{"sync_daily"}, got.Tasks[1].DependsOn)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	weekly := testDefinition("weekly")
	weekly.Schedule = "weekly"
	require.NoError(t, repo.Create(ctx, weekly))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	daily, err := repo.ListBySchedule(ctx, "daily")
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "daily", daily[0].DAGID)

	update := testDefinition("ignored")
	update.Description = "changed"
	require.NoError(t, repo.Update(ctx, "daily", update))
	got, err = repo.Get(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Description)

	assert.ErrorIs(t, repo.Update(ctx, "missing", update), ErrNotFound)

	require.NoError(t, repo.Delete(ctx, "daily"))
	assert.ErrorIs(t, repo.Delete(ctx, "daily"), ErrNotFound)
}

func TestDAGConfigRepository_RejectsInvalid(t *testing.T) {
	db := NewMemoryDB(t)
	repo := NewDAGConfigRepository(db.DB)

	cyclic := &models.DAGDefinition{
		DAGID: "cyclic",
		Tasks: []models.TaskSpec{
			{TaskID: "a", TaskType: models.TaskTypeSync, DependsOn: []string{"b"}},
			{TaskID: "b", TaskType: models.TaskTypeSync, DependsOn: []string{"a"}},
		},
	}

	err := repo.Create(context.Background(), cyclic)
	var cycleErr *dag.CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func testSyncConfig(id string) *models.SyncTaskConfig {
	return &models.SyncTaskConfig{
		TaskID:      id,
		APIName:     "daily",
		SyncType:    models.SyncTypeIncremental,
		Params:      map[string]any{"trade_date": "{date}"},
		DateField:   "trade_date",
		PrimaryKeys: []string{"ts_code", "trade_date"},
		TableName:   "sync_daily_data",
		Schema: map[string]models.ColumnDef{
			"ts_code":    {Type: "SYMBOL"},
			"trade_date": {Type: "DATE"},
			"close":      {Type: "DOUBLE"},
		},
		Enabled: true,
	}
}

func TestSyncConfigRepository_CRUD(t *testing.T) {
	db := NewMemoryDB(t)
	repo := NewSyncConfigRepository(db.DB)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testSyncConfig("sync_daily")))
	disabled := testSyncConfig("sync_adj_factor")
	disabled.Enabled = false
	require.NoError(t, repo.Create(ctx, disabled))
	assert.ErrorIs(t, repo.Create(ctx, testSyncConfig("sync_daily")), ErrAlreadyExists)

	invalid := testSyncConfig("bad")
	invalid.PrimaryKeys = nil
	assert.ErrorIs(t, repo.Create(ctx, invalid), ErrInvalidInput)

	got, err := repo.Get(ctx, "sync_daily")
	require.NoError(t, err)
	assert.Equal(t, "sync_daily_data", got.TableName)
	assert.Equal(t, "{date}", got.Params["trade_date"])
	assert.Equal(t, "DOUBLE", got.Schema["close"].Type)

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "sync_daily", enabled[0].TaskID)

	disabled.Enabled = true
	require.NoError(t, repo.Update(ctx, "sync_adj_factor", disabled))
	enabled, err = repo.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)

	require.NoError(t, repo.Delete(ctx, "sync_daily"))
	_, err = repo.Get(ctx, "sync_daily")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunLogRepository_LatestRows(t *testing.T) {
	db := NewMemoryDB(t)
	repo := NewRunLogRepository(db.DB)
	ctx := context.Background()

	run, err := dag.BuildDag(testDefinition("daily"))
	require.NoError(t, err)
	run.RunID = "daily_run_1"
	run.TargetDate = "20240105"
	started := time.Now().UTC()
	run.StartedAt = &started
	run.Status = models.StateRunning

	require.NoError(t, repo.AppendRun(ctx, run))

	syncNode := run.Tasks["sync_daily"]
	syncNode.Status = models.StateRunning
	require.NoError(t, repo.AppendTask(ctx, run.RunID, syncNode))
	syncNode.Status = models.StateFailed
	syncNode.ErrorMessage = "upstream down"
	require.NoError(t, repo.AppendTask(ctx, run.RunID, syncNode))

	factorNode := run.Tasks["factor_momentum_20"]
	factorNode.Status = models.StateSkipped
	factorNode.ErrorMessage = "Dependency failed"
	require.NoError(t, repo.AppendTask(ctx, run.RunID, factorNode))

	run.Status = models.StateFailed
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	require.NoError(t, repo.AppendRun(ctx, run))

	rec, err := repo.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, rec.Status)
	assert.NotNil(t, rec.FinishedAt)
	require.Len(t, rec.Tasks, 2)

	byID := map[string]models.TaskRunRecord{}
	for _, task := range rec.Tasks {
		byID[task.TaskID] = task
	}
	assert.Equal(t, models.StateFailed, byID["sync_daily"].Status)
	assert.Equal(t, "upstream down", byID["sync_daily"].ErrorMessage)
	assert.Equal(t, models.StateSkipped, byID["factor_momentum_20"].Status)

	_, err = repo.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunLogRepository_ListRunsAndBackfill(t *testing.T) {
	db := NewMemoryDB(t)
	repo := NewRunLogRepository(db.DB)
	ctx := context.Background()

	appendRun := func(runID, date string, runType models.RunType, backfillID string, status models.State) {
		run := &models.DAGRun{
			RunID:      runID,
			DAGID:      "daily",
			TargetDate: date,
			Status:     models.StateRunning,
			RunType:    runType,
			BackfillID: backfillID,
		}
		require.NoError(t, repo.AppendRun(ctx, run))
		run.Status = status
		require.NoError(t, repo.AppendRun(ctx, run))
	}

	appendRun("r1", "20240102", models.RunTypeBackfill, "bf1", models.StateSuccess)
	appendRun("r2", "20240103", models.RunTypeBackfill, "bf1", models.StateFailed)
	appendRun("r3", "20240104", models.RunTypeToday, "", models.StateSuccess)

	runs, err := repo.ListRuns(ctx, RunFilters{DAGID: "daily", Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r3", runs[0].RunID)

	backfills, err := repo.ListRuns(ctx, RunFilters{DAGID: "daily", RunType: models.RunTypeBackfill})
	require.NoError(t, err)
	assert.Len(t, backfills, 2)

	limited, err := repo.ListRuns(ctx, RunFilters{DAGID: "daily", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	grouped, err := repo.ListBackfillRuns(ctx, "bf1")
	require.NoError(t, err)
	require.Len(t, grouped, 2)
	assert.Equal(t, "20240102", grouped[0].TargetDate)
	assert.Equal(t, models.StateSuccess, grouped[0].Status)
	assert.Equal(t, models.StateFailed, grouped[1].Status)
}

func TestWatermarkRepository_Monotonic(t *testing.T) {
	db := NewMemoryDB(t)
	repo := NewWatermarkRepository(db.DB)
	ctx := context.Background()

	last, updated, err := repo.GetLastDate(ctx, "tushare_config", "sync_daily")
	require.NoError(t, err)
	assert.Empty(t, last)
	assert.Nil(t, updated)

	require.NoError(t, repo.Advance(ctx, "tushare_config", "sync_daily", "20240105"))
	require.NoError(t, repo.Advance(ctx, "tushare_config", "sync_daily", "20240103"))

	last, updated, err = repo.GetLastDate(ctx, "tushare_config", "sync_daily")
	require.NoError(t, err)
	assert.Equal(t, "20240105", last)
	assert.NotNil(t, updated)

	require.NoError(t, repo.Advance(ctx, "tushare_config", "sync_daily", "20240108"))
	last, _, err = repo.GetLastDate(ctx, "tushare_config", "sync_daily")
	require.NoError(t, err)
	assert.Equal(t, "20240108", last)
}

func TestWatermarkRepository_History(t *testing.T) {
	db := NewMemoryDB(t)
	repo := NewWatermarkRepository(db.DB)
	ctx := context.Background()

	for _, date := range []string{"20240102", "20240103", "20240104"} {
		require.NoError(t, repo.AppendHistory(ctx, &SyncLogHistoryModel{
			Source:   "tushare_config",
			TaskID:   "sync_daily",
			SyncDate: date,
			Status:   "success",
		}))
	}

	rows, err := repo.History(ctx, "tushare_config", "sync_daily", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "20240104", rows[0].SyncDate)
}

func TestFactorRepository_ValuesAndRuns(t *testing.T) {
	db := NewMemoryDB(t)
	repo := NewFactorRepository(db.DB)
	ctx := context.Background()

	v1, v2 := 0.5, 1.5
	values := []FactorValueModel{
		{TsCode: "000001.SZ", TradeDate: "20240102", FactorID: "f", FactorValue: &v1},
		{TsCode: "000001.SZ", TradeDate: "20240103", FactorID: "f", FactorValue: nil, QualityFlag: 4},
	}
	n, err := repo.UpsertValues(ctx, values)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	values[0].FactorValue = &v2
	_, err = repo.UpsertValues(ctx, values[:1])
	require.NoError(t, err)

	stored, err := repo.LoadValues(ctx, "f", "20240101", "20240131")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.NotNil(t, stored[0].FactorValue)
	assert.Equal(t, 1.5, *stored[0].FactorValue)
	assert.Nil(t, stored[1].FactorValue)
	assert.EqualValues(t, 4, stored[1].QualityFlag)

	require.NoError(t, repo.AppendRun(ctx, &FactorTaskRunModel{FactorID: "f", Status: "success", RowsAffected: 2}))
	require.NoError(t, repo.AppendRun(ctx, &FactorTaskRunModel{FactorID: "f", Status: "failed", ErrorMessage: "boom"}))

	runs, err := repo.ListRuns(ctx, "f", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StateFailed, runs[0].Status)
}

func TestFactorRepository_Metadata(t *testing.T) {
	db := NewMemoryDB(t)
	repo := NewFactorRepository(db.DB)
	ctx := context.Background()

	_, err := repo.GetMetadata(ctx, "f")
	assert.ErrorIs(t, err, ErrNotFound)

	meta := &FactorMetadataModel{
		FactorID:   "f",
		Category:   "momentum",
		Preprocess: JSONB{"filter_st": false},
	}
	require.NoError(t, repo.SaveMetadata(ctx, meta))

	meta.LastComputedDate = "20240105"
	require.NoError(t, repo.SaveMetadata(ctx, meta))

	got, err := repo.GetMetadata(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, "20240105", got.LastComputedDate)
	assert.Equal(t, false, got.Preprocess["filter_st"])

	all, err := repo.ListMetadata(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
