package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Setup configures the standard logrus logger from cfg. The returned closer
// flushes the rotating file, if any.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	logger := log.StandardLogger()

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
		logger.Warnf("Invalid log level %q, using info", cfg.Level)
	}
	logger.SetLevel(level)

	formatter, err := newFormatter(cfg.Format)
	if err != nil {
		return nil, err
	}
	logger.SetFormatter(formatter)

	out, closer, err := newOutput(cfg)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)
	return closer, nil
}

func newFormatter(format string) (log.Formatter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &log.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat}, nil
	case "json":
		return &log.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: log.FieldMap{
				log.FieldKeyTime: "timestamp",
				log.FieldKeyMsg:  "message",
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newOutput(cfg config.LogConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("file path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		if strings.EqualFold(cfg.Level, "debug") {
			return io.MultiWriter(os.Stdout, rotating), rotating, nil
		}
		return rotating, rotating, nil
	default:
		return nil, nil, fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
}
