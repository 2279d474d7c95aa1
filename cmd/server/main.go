package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/app"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/config"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/api/middleware"
)

func main() {
	configPath := flag.String("config", os.Getenv("FACTORFLOW_CONFIG"), "Path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("Server exited with error")
	}
}

func run(cfg *config.Config) error {
	log.WithField("version", api.Version).Info("Starting factorflow server")

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue, err := a.NewQueue()
	if err != nil {
		return err
	}
	if local, ok := queue.(*scheduler.JobQueue); ok {
		if err := local.Start(ctx); err != nil {
			return err
		}
		defer local.Stop()
	}

	if cfg.Scheduler.Enabled {
		sched := a.NewScheduler(queue)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		defer limiter.Stop()
	}

	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(api.Dependencies{
		DAGs:        a.DAGs,
		Queue:       queue,
		Runs:        a.Executor,
		Backfill:    a.Backfill,
		Sync:        a.Syncer,
		Factors:     a.Production,
		Metrics:     a.Metrics.Handler(),
		Database:    a.DB,
		Upstream:    a.Upstream,
		RateLimiter: limiter,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutting down server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server forced to shutdown")
	}

	log.Info("Server stopped")
	return nil
}
