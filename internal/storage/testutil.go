package storage

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
)

var memDBCounter atomic.Int64

// NewMemoryDB opens a migrated in-memory SQLite database private to the test
func NewMemoryDB(t *testing.T) *DB {
	t.Helper()

	cfg := &Config{
		Driver:   DriverSQLite,
		Path:     fmt.Sprintf("file:factorflow_test_%d?mode=memory&cache=shared", memDBCounter.Add(1)),
		LogLevel: "silent",
	}

	db, err := NewDB(cfg)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := Migrate(db, cfg); err != nil {
		db.Close()
		t.Fatalf("failed to migrate sqlite: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// SetupTestDB connects to the postgres database used by integration tests,
// skipping the test when it is unavailable
func SetupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Host = envOr("DB_HOST", cfg.Host)
	cfg.Port = envOr("DB_PORT", cfg.Port)
	cfg.User = envOr("DB_USER", cfg.User)
	cfg.Password = envOr("DB_PASSWORD", cfg.Password)
	cfg.DBName = envOr("DB_NAME", cfg.DBName)
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.LogLevel = "silent"

	db, err := NewDB(cfg)
	if err != nil {
		t.Skipf("Failed to connect to test database: %v. Set DB_HOST, DB_PORT, etc. to run integration tests", err)
	}

	if err := Migrate(db, cfg); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Exec("TRUNCATE TABLE dag_task_log, dag_run_log, sync_log_history, sync_log, factor_values, factor_task_run, factor_metadata, sync_task_config, dag_config")
		db.Close()
	}

	return db, cleanup
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PrintTestDatabaseInfo prints information about connecting to the test database
func PrintTestDatabaseInfo() {
	fmt.Println("Integration tests require a PostgreSQL database.")
	fmt.Println("Set the following environment variables to configure:")
	fmt.Println("  DB_HOST (default: localhost)")
	fmt.Println("  DB_PORT (default: 5432)")
	fmt.Println("  DB_USER (default: factorflow)")
	fmt.Println("  DB_PASSWORD (default: factorflow_dev_password)")
	fmt.Println("  DB_NAME (default: factorflow)")
}
