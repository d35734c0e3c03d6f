package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/logging"
	"github.com/rescale/simchain/internal/orchestrator"
	"github.com/rescale/simchain/internal/pathutil"
)

// newRunCmd creates the 'run' command, the entry point of every phase.
func newRunCmd() *cobra.Command {
	var inv orchestrator.Invocation

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run one phase of an experiment and chain its successors",
		Long: `Run one phase of the experiment described by the run configuration.

Batch and shell phases submit themselves and return. In-process phases
(prepcompute, tidy, inspect, viz) run here and then hand off their
successors. observe_<phase> watches the payload of <phase> until it exits.

Examples:
  # Start or continue the chain
  simchain run demo.yaml -t prepcompute

  # Show scripts, plans and submit commands without touching anything
  simchain run demo.yaml -t prepcompute --check

  # Resume a specific run
  simchain run demo.yaml -t tidy -s 2001-01-01 -r 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := pathutil.ResolveAbsolutePath(args[0])
			if err != nil {
				return config.WrapConfigError(args[0], "bad configuration path", err)
			}
			inv.ConfigPath = path
			if inv.Phase == "" {
				return config.NewConfigError("--task", "is required")
			}
			if (inv.StartDate == "") != (inv.RunNumber == 0) {
				return config.NewConfigError("--start-date", "must be given together with --run-number")
			}
			return runPhase(GetContext(), cmd, inv)
		},
	}

	cmd.Flags().StringVarP(&inv.Phase, "task", "t", "", "Phase to run (required)")
	cmd.Flags().IntVarP(&inv.PID, "pid", "p", 0, "Process id watched by an observe_ phase")
	cmd.Flags().StringVarP(&inv.JobID, "jobid", "j", "", "Scheduler job id of the watched or current job")
	cmd.Flags().StringVarP(&inv.StartDate, "start-date", "s", "", "Current date of the run, overriding the date file")
	cmd.Flags().IntVarP(&inv.RunNumber, "run-number", "r", 0, "Run number, overriding the date file")
	cmd.Flags().BoolVar(&inv.Check, "check", false, "Render everything without submitting, staging or persisting")

	return cmd
}

// runPhase loads the configuration, attaches the experiment's rotating
// log and executes the phase.
func runPhase(ctx context.Context, cmd *cobra.Command, inv orchestrator.Invocation) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	tree, err := config.LoadTree(inv.ConfigPath)
	if err != nil {
		return config.WrapConfigError(inv.ConfigPath, "cannot load run configuration", err)
	}
	layout, err := config.NewLayout(tree)
	if err != nil {
		return err
	}

	log := GetLogger()
	if settings.Logging.FileLogging && !inv.Check {
		if err := config.EnsureDirectory(layout.LogDir()); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		log.AttachFile(logging.NewFileWriter(layout.RunLog()))
		defer log.Close()
	}

	rc, err := orchestrator.NewRunContext(ctx, tree, inv, orchestrator.Deps{
		Settings: settings,
		Logger:   log,
		Out:      cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer rc.Close()

	return orchestrator.Execute(ctx, rc)
}
