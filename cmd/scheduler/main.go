package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/app"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/config"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", os.Getenv("FACTORFLOW_CONFIG"), "Path to the config file")
	timezone := flag.String("timezone", "", "Timezone for schedules (overrides scheduler.timezone)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *timezone != "" {
		cfg.Scheduler.Timezone = *timezone
	}

	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("Scheduler exited with error")
	}
}

// run fires scheduled DAGs onto the queue. With NATS enabled the runs
// execute on workers, otherwise in this process.
func run(cfg *config.Config) error {
	log.WithFields(log.Fields{
		"version":  version,
		"timezone": cfg.Scheduler.Timezone,
		"nats":     cfg.NATS.Enabled,
	}).Info("Starting factorflow scheduler")

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

	sched := a.NewScheduler(queue)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	log.WithField("dags", sched.ScheduledDAGs()).Info("Scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Initiating graceful shutdown")

	if err := sched.Stop(); err != nil {
		log.WithError(err).Warn("Error stopping scheduler")
	}
	log.Info("Scheduler stopped")
	return nil
}
