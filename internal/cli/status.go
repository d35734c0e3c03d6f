package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rescale/simchain/internal/monitor"
)

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	var (
		lines int
		query bool
	)

	cmd := &cobra.Command{
		Use:   "status <config.yaml>",
		Short: "Show the run window, monitor states and recent transitions",
		Long: `Show where the experiment stands: the persisted run window, the state
of every run monitor and the tail of the audit log.

With --query the scheduler is asked for the state of every job a
monitor is still waiting on.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			rc, err := inspectContext(ctx, cmd, inspectInvocation(args[0], "status"))
			if err != nil {
				return err
			}
			defer rc.Close()
			out := cmd.OutOrStdout()

			w := rc.Window
			fmt.Fprintf(out, "Experiment %s (%s)\n", rc.Layout.ExpID, rc.Layout.ExpDir)
			if w.NeedsFirstWrite {
				fmt.Fprintln(out, "  not started")
			}
			fmt.Fprintf(out, "  run %d: %s -> %s\n", w.RunNumber, w.CurrentDate, w.EndDate)
			fmt.Fprintf(out, "  final date: %s (%s calendar)\n", w.FinalDate, w.Calendar)
			fmt.Fprintf(out, "  scheduler: %s\n", rc.Adapter.Name())

			paths, _ := filepath.Glob(filepath.Join(rc.Layout.ScriptsDir(), "monitor_*.json"))
			if len(paths) > 0 {
				fmt.Fprintln(out, "\nMonitors:")
			}
			for _, path := range paths {
				st, err := monitor.LoadStatus(path)
				if err != nil {
					GetLogger().Warn().Err(err).Str("path", path).Msg("Unreadable monitor status")
					continue
				}
				fmt.Fprintf(out, "  %-12s %-13s %6.0fs  pid %d  job %s", st.Phase, st.State, st.Elapsed, st.PID, st.JobID)
				if st.Message != "" {
					fmt.Fprintf(out, "  %s", st.Message)
				}
				fmt.Fprintln(out)
				if query && st.State == monitor.StateWaiting && st.JobID != "" {
					state, ok, err := rc.Adapter.JobState(ctx, st.JobID)
					switch {
					case err != nil:
						fmt.Fprintf(out, "    scheduler: %v\n", err)
					case !ok:
						fmt.Fprintln(out, "    scheduler: job no longer known")
					default:
						fmt.Fprintf(out, "    scheduler: %s\n", state)
					}
				}
			}

			if tail := rc.Audit.Tail(lines); len(tail) > 0 {
				fmt.Fprintln(out, "\nRecent transitions:")
				for _, l := range tail {
					fmt.Fprintf(out, "  %s\n", l)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Audit log lines to show")
	cmd.Flags().BoolVar(&query, "query", false, "Ask the scheduler about jobs still being monitored")

	return cmd
}
