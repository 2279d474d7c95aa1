package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/app"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/production"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run data sync tasks",
	}

	var date, end string
	var all bool
	run := &cobra.Command{
		Use:   "run [task_id]",
		Short: "Sync one task, or every enabled task with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give either a task_id or --all")
			}
			return withApp(func(a *app.App) error {
				if all {
					results, err := a.Syncer.SyncAllEnabled(cmd.Context(), date)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), results)
				}

				result, err := a.Syncer.ExecuteByID(cmd.Context(), args[0], date, end)
				if result != nil {
					if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	run.Flags().StringVar(&date, "date", "", "target date YYYYMMDD (default: today)")
	run.Flags().StringVar(&end, "end", "", "end date YYYYMMDD for a range")
	run.Flags().BoolVar(&all, "all", false, "sync every enabled task")

	cmd.AddCommand(run)
	return cmd
}

func newFactorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "factor",
		Short: "Compute and list factors",
	}

	var opts production.RunOptions
	var mode string
	run := &cobra.Command{
		Use:   "run <factor_id>",
		Short: "Compute one factor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Mode = models.ComputeMode(mode)
			return withApp(func(a *app.App) error {
				result, err := a.Production.RunTask(cmd.Context(), args[0], opts)
				if result != nil {
					if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	run.Flags().StringVar(&opts.TargetDate, "date", "", "target date YYYYMMDD")
	run.Flags().StringVar(&opts.StartDate, "start", "", "first calc date YYYYMMDD")
	run.Flags().StringVar(&opts.EndDate, "end", "", "last calc date YYYYMMDD")
	run.Flags().StringVar(&mode, "mode", "", "compute mode override (incremental, full)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered factors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				factors, err := a.Production.ListFactors(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), factors)
			})
		},
	}

	var set map[string]string
	var reset bool
	preprocess := &cobra.Command{
		Use:   "preprocess <factor_id>",
		Short: "Store the preprocess override of one factor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reset == (len(set) > 0) {
				return fmt.Errorf("give either --set key=value or --reset")
			}
			overrides := make(map[string]interface{}, len(set))
			for k, v := range set {
				overrides[k] = v
			}
			return withApp(func(a *app.App) error {
				resolved, err := a.Production.UpdatePreprocess(cmd.Context(), args[0], overrides)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resolved)
			})
		},
	}
	preprocess.Flags().StringToStringVar(&set, "set", nil, "override as key=value, repeatable (e.g. adjust_price=none)")
	preprocess.Flags().BoolVar(&reset, "reset", false, "drop the stored override")

	cmd.AddCommand(run, list, preprocess)
	return cmd
}
