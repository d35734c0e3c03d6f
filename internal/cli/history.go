package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rescale/simchain/internal/audit"
	"github.com/rescale/simchain/internal/history"
	"github.com/rescale/simchain/internal/orchestrator"
)

// newHistoryCmd creates the 'history' command.
func newHistoryCmd() *cobra.Command {
	var (
		limit     int
		run       int
		showStage bool
	)

	cmd := &cobra.Command{
		Use:   "history <config.yaml>",
		Short: "List recorded transitions and staging reports",
		Long: `List the run history recorded in SQLite when [history] enabled = true
in the tool settings.

Examples:
  simchain history demo.yaml -n 50
  simchain history demo.yaml --staging -r 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			rc, err := inspectContext(ctx, cmd, inspectInvocation(args[0], "history"))
			if err != nil {
				return err
			}
			defer rc.Close()

			path := rc.Settings.History.Path
			if path == "" {
				path = rc.Layout.HistoryDB()
			}
			store, err := history.Open(ctx, path)
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer store.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer tw.Flush()

			if showStage {
				reports, err := store.ListStaging(ctx, run)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "TIME\tRUN\tPHASE\tMISSING\tCONFLICTS\tFAILED\tBYTES\tSUMMARY")
				for _, r := range reports {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%d\t%d\t%s\n",
						r.Time.Local().Format(audit.TimeFormat), r.RunNumber, r.Phase,
						r.Missing, r.Conflicts, r.Failed, r.Bytes, r.Summary)
				}
				uploaded, err := store.UploadedBytes(ctx, run)
				if err != nil {
					return err
				}
				if uploaded > 0 {
					fmt.Fprintf(tw, "\nmirrored\t%d bytes\n", uploaded)
				}
				return nil
			}

			transitions, err := store.ListTransitions(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "TIME\tPHASE\tRUN\tDATE\tJOB\tEVENT")
			for _, t := range transitions {
				if run > 0 && t.RunNumber != run {
					continue
				}
				job := t.JobID
				if job == "" {
					job = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
					t.Time.Local().Format(audit.TimeFormat), t.Phase, t.RunNumber, t.Date, job, t.Event)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Transitions to list (0 = all)")
	cmd.Flags().IntVarP(&run, "run-number", "r", 0, "Only this run")
	cmd.Flags().BoolVar(&showStage, "staging", false, "List staging reports instead of transitions")

	return cmd
}

func inspectInvocation(configPath, name string) orchestrator.Invocation {
	return orchestrator.Invocation{ConfigPath: configPath, Phase: name}
}
