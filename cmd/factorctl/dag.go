package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/app"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/executor"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

func newDAGCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Run, backfill and inspect DAGs",
	}
	cmd.AddCommand(newDAGRunCmd(), newDAGBackfillCmd(), newDAGStatusCmd(), newDAGRunsCmd(), newDAGImportCmd())
	return cmd
}

func newDAGRunCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "run <dag_id>",
		Short: "Run a DAG once for a target date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				run, err := a.Executor.ExecuteDag(cmd.Context(), args[0], executor.ExecuteOptions{
					TargetDate:  date,
					TriggerType: models.TriggerManual,
				})
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), executor.RecordOf(run)); err != nil {
					return err
				}
				if run.Status != models.StateSuccess {
					return fmt.Errorf("run %s finished %s", run.RunID, run.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "target date YYYYMMDD (default: none)")
	return cmd
}

func newDAGBackfillCmd() *cobra.Command {
	var start, end string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "backfill <dag_id>",
		Short: "Run a DAG for every weekday in a date range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				engine := scheduler.NewBackfillEngine(a.Executor, scheduler.BackfillConfig{DryRun: dryRun})
				summary, err := engine.Backfill(cmd.Context(), scheduler.BackfillRequest{
					DAGID:     args[0],
					StartDate: start,
					EndDate:   end,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first date YYYYMMDD")
	cmd.Flags().StringVar(&end, "end", "", "last date YYYYMMDD")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the covered dates without running")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newDAGStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show a DAG run and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				run, err := a.Executor.GetRunStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), run)
			})
		},
	}
}

func newDAGRunsCmd() *cobra.Command {
	var limit int
	var runType string
	cmd := &cobra.Command{
		Use:   "runs <dag_id>",
		Short: "List recent runs of a DAG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				runs, err := a.Executor.GetDagRuns(cmd.Context(), args[0], limit, models.RunType(runType))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().StringVar(&runType, "run-type", "", "filter by run type (today, backfill)")
	return cmd
}

func newDAGImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Seed DAG and sync task definitions from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := dag.NewParser().ParseFile(args[0])
			if err != nil {
				return err
			}
			return withApp(func(a *app.App) error {
				result, err := a.Import(cmd.Context(), bundle)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}
