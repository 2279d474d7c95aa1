package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FACTORFLOW_DATABASE_HOST
const EnvPrefix = "FACTORFLOW"

// Task lock backends
const (
	LockLocal = "local"
	LockRedis = "redis"
	LockNone  = "none"
)

// Config is the full runtime configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Production ProductionConfig `mapstructure:"production"`
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
}

type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver"`
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Name        string        `mapstructure:"name"`
	SSLMode     string        `mapstructure:"sslmode"`
	Path        string        `mapstructure:"path"`
	MaxConns    int           `mapstructure:"max_conns"`
	MinConns    int           `mapstructure:"min_conns"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
	LogLevel    string        `mapstructure:"log_level"`
	Migrations  bool          `mapstructure:"migrations"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	AckWait time.Duration `mapstructure:"ack_wait"`
}

// UpstreamConfig configures the market data API
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	CallsPerMinute int           `mapstructure:"calls_per_minute"`
	RetryTimes     int           `mapstructure:"retry_times"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	Timeout        time.Duration `mapstructure:"timeout"`

	// BreakerFailures consecutive failures of one API open its circuit; 0 disables
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type ExecutorConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	JobWorker int           `mapstructure:"job_workers"`
	TaskLock  string        `mapstructure:"task_lock"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Timezone       string        `mapstructure:"timezone"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// ProductionConfig holds the global factor defaults
type ProductionConfig struct {
	Preprocess   map[string]interface{} `mapstructure:"preprocess"`
	LookbackDays int                    `mapstructure:"lookback_days"`
	DefaultStart string                 `mapstructure:"default_start"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is requests per second per client on /api/v1; zero disables it
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// Load reads configuration from path (optional), then environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("factorflow")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "factorflow")
	v.SetDefault("database.password", "factorflow_dev_password")
	v.SetDefault("database.name", "factorflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "factorflow.db")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_idle_time", "5m")
	v.SetDefault("database.max_lifetime", "30m")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.migrations", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.ack_wait", "1h")

	v.SetDefault("upstream.base_url", "http://api.tushare.pro")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.calls_per_minute", 120)
	v.SetDefault("upstream.retry_times", 3)
	v.SetDefault("upstream.retry_delay", "1s")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.breaker_failures", 5)
	v.SetDefault("upstream.breaker_cooldown", "1m")

	v.SetDefault("executor.workers", 3)
	v.SetDefault("executor.queue_size", 100)
	v.SetDefault("executor.job_workers", 1)
	v.SetDefault("executor.task_lock", LockLocal)
	v.SetDefault("executor.lock_ttl", "30s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "Asia/Shanghai")
	v.SetDefault("scheduler.reload_interval", "1m")

	v.SetDefault("production.preprocess", map[string]interface{}{})
	v.SetDefault("production.lookback_days", 60)
	v.SetDefault("production.default_start", "20100101")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/factorflow.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 20)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		result = multierror.Append(result, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Upstream.CallsPerMinute < 0 {
		result = multierror.Append(result, errors.New("upstream.calls_per_minute must not be negative"))
	}
	if c.Upstream.RetryTimes < 1 {
		result = multierror.Append(result, errors.New("upstream.retry_times must be at least 1"))
	}
	if c.Executor.Workers < 1 {
		result = multierror.Append(result, errors.New("executor.workers must be at least 1"))
	}
	if c.Executor.QueueSize < 1 {
		result = multierror.Append(result, errors.New("executor.queue_size must be at least 1"))
	}
	switch c.Executor.TaskLock {
	case LockLocal, LockNone:
	case LockRedis:
		if !c.Redis.Enabled {
			result = multierror.Append(result, errors.New("executor.task_lock=redis requires redis.enabled"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("executor.task_lock must be local, redis or none, got %q", c.Executor.TaskLock))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		result = multierror.Append(result, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if c.Production.LookbackDays < 0 {
		result = multierror.Append(result, errors.New("production.lookback_days must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Output) {
	case "stdout", "stderr", "file":
	default:
		result = multierror.Append(result, fmt.Errorf("log.output must be stdout, stderr or file, got %q", c.Log.Output))
	}

	return result.ErrorOrNil()
}
