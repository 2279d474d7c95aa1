package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Driver != DriverPostgres {
		t.Errorf("DefaultConfig Driver = %s, want postgres", cfg.Driver)
	}
	if cfg.Host != "localhost" {
		t.Errorf("DefaultConfig Host = %s, want localhost", cfg.Host)
	}
	if cfg.Port != "5432" {
		t.Errorf("DefaultConfig Port = %s, want 5432", cfg.Port)
	}
	if cfg.MaxConns != 25 {
		t.Errorf("DefaultConfig MaxConns = %d, want 25", cfg.MaxConns)
	}
	if cfg.MinConns != 5 {
		t.Errorf("DefaultConfig MinConns = %d, want 5", cfg.MinConns)
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{
		Host:     "db.example.com",
		Port:     "5433",
		User:     "u",
		Password: "p",
		DBName:   "factors",
		SSLMode:  "require",
	}
	assert.Equal(t, "host=db.example.com port=5433 user=u password=p dbname=factors sslmode=require", cfg.DSN())
}

func TestNewDB_UnsupportedDriver(t *testing.T) {
	_, err := NewDB(&Config{Driver: "mysql"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDB_InvalidConfig(t *testing.T) {
	cfg := &Config{
		Host:     "invalid-host",
		Port:     "9999",
		User:     "invalid",
		Password: "invalid",
		DBName:   "invalid",
		SSLMode:  "disable",
	}

	db, err := NewDB(cfg)
	if err == nil && db != nil {
		db.Close()
		t.Skip("Connection to invalid host succeeded unexpectedly, skipping test")
	}

	if err == nil {
		t.Error("Expected error connecting to invalid database, got nil")
	}
}

func TestMemoryDB_Health(t *testing.T) {
	db := NewMemoryDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, db.Health(ctx))
	assert.Equal(t, DriverSQLite, db.Driver())
	for _, table := range []string{"dag_config", "dag_run_log", "dag_task_log", "sync_log", "sync_log_history", "factor_values"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestPersistenceError(t *testing.T) {
	assert.NoError(t, persistErr("noop", nil))

	err := persistErr("append dag run log", context.DeadlineExceeded)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "append dag run log", pe.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
