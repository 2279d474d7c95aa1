package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"dag", "run"}, {"dag", "backfill"}, {"dag", "status"}, {"dag", "runs"}, {"dag", "import"},
		{"sync", "run"}, {"factor", "run"}, {"factor", "list"}, {"factor", "preprocess"},
		{"migrate", "up"}, {"migrate", "down"}, {"migrate", "version"},
	} {
		cmd, rest, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestSyncRun_RequiresTaskOrAll(t *testing.T) {
	for _, args := range [][]string{
		{"sync", "run"},
		{"sync", "run", "daily", "--all"},
	} {
		root := newRootCmd()
		root.SetArgs(args)
		root.SetOut(&bytes.Buffer{})
		err := root.Execute()
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "either a task_id or --all")
	}
}

func TestDAGBackfill_RequiresRange(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"dag", "backfill", "daily_pipeline"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestFactorPreprocess_RequiresSetOrReset(t *testing.T) {
	for _, args := range [][]string{
		{"factor", "preprocess", "factor_ma_20"},
		{"factor", "preprocess", "factor_ma_20", "--reset", "--set", "filter_st=false"},
	} {
		root := newRootCmd()
		root.SetArgs(args)
		root.SetOut(&bytes.Buffer{})
		err := root.Execute()
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "either --set key=value or --reset")
	}
}

func TestFactorPreprocess_StoresOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FACTORFLOW_CONFIG", "")
	t.Setenv("FACTORFLOW_DATABASE_DRIVER", "sqlite")
	t.Setenv("FACTORFLOW_DATABASE_PATH", filepath.Join(t.TempDir(), "factorflow.db"))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"factor", "preprocess", "factor_momentum_20", "--set", "adjust_price=none", "--set", "filter_st=false"})
	root.SetOut(&out)
	require.NoError(t, root.Execute())

	var resolved models.PreprocessOptions
	require.NoError(t, json.Unmarshal(out.Bytes(), &resolved), out.String())
	assert.Equal(t, models.AdjustNone, resolved.AdjustPrice)
	assert.False(t, resolved.FilterST)
	assert.True(t, resolved.FilterNewStock)

	root = newRootCmd()
	root.SetArgs([]string{"factor", "preprocess", "factor_ghost", "--reset"})
	root.SetOut(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}
