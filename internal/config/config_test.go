package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Database.Migrations)
	assert.Equal(t, 120, cfg.Upstream.CallsPerMinute)
	assert.Equal(t, 3, cfg.Upstream.RetryTimes)
	assert.Equal(t, time.Second, cfg.Upstream.RetryDelay)
	assert.Equal(t, 3, cfg.Executor.Workers)
	assert.Equal(t, LockLocal, cfg.Executor.TaskLock)
	assert.Equal(t, 60, cfg.Production.LookbackDays)
	assert.Equal(t, "20100101", cfg.Production.DefaultStart)
	assert.Equal(t, "Asia/Shanghai", cfg.Scheduler.Timezone)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "factorflow.yaml")
	content := `
database:
  driver: sqlite
  path: /tmp/ff.db
executor:
  workers: 8
production:
  lookback_days: 30
  preprocess:
    adjust_price: backward
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("FACTORFLOW_EXECUTOR_WORKERS", "5")
	t.Setenv("FACTORFLOW_UPSTREAM_TOKEN", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/ff.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Executor.Workers)
	assert.Equal(t, "secret", cfg.Upstream.Token)
	assert.Equal(t, 30, cfg.Production.LookbackDays)
	assert.Equal(t, "backward", cfg.Production.Preprocess["adjust_price"])
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Database.Driver = "mysql"
	cfg.Executor.Workers = 0
	cfg.Executor.TaskLock = LockRedis
	cfg.Log.Format = "xml"

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"database.driver", "executor.workers", "requires redis.enabled", "log.format"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}
