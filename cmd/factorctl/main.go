// Command factorctl runs DAGs, syncs and factors against the configured
// database without going through the HTTP server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/app"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/config"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "factorflow",
		Short:         "factorflow pipeline control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("FACTORFLOW_CONFIG"), "config file path (default ./configs/factorflow.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newDAGCmd(), newSyncCmd(), newFactorCmd(), newMigrateCmd())
	return root
}

// loadConfig reads the config and sets up logging for a command
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

// withApp wires the app for the duration of fn
func withApp(fn func(a *app.App) error) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
