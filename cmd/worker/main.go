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
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", os.Getenv("FACTORFLOW_CONFIG"), "Path to the config file")
	natsURL := flag.String("nats", "", "NATS server URL (overrides nats.url)")
	workers := flag.Int("workers", 0, "Concurrent tasks per DAG layer (overrides executor.workers)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if *workers > 0 {
		cfg.Executor.Workers = *workers
	}

	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("Worker exited with error")
	}
}

func run(cfg *config.Config) error {
	log.WithFields(log.Fields{
		"version": version,
		"nats":    cfg.NATS.URL,
		"workers": cfg.Executor.Workers,
	}).Info("Starting factorflow worker")

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := a.NewNATSQueue()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithField("signal", sig.String()).Info("Initiating graceful shutdown")
		cancel()
	}()

	if err := queue.Consume(ctx, a.Executor); err != nil {
		return err
	}

	log.Info("Worker stopped")
	return nil
}
