package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/orchestrator"
	"github.com/rescale/simchain/internal/staging"
)

// newPlanCmd creates the 'plan' command.
func newPlanCmd() *cobra.Command {
	var (
		startDate string
		runNumber int
		asYAML    bool
	)

	cmd := &cobra.Command{
		Use:   "plan <config.yaml>",
		Short: "Print the staging plan of the current run",
		Long: `Assemble the staging plan of the current run (or of the run given by
--start-date and --run-number) and print it. Nothing is staged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := inspectContext(GetContext(), cmd, orchestrator.Invocation{
				ConfigPath: args[0],
				Phase:      "plan",
				StartDate:  startDate,
				RunNumber:  runNumber,
			})
			if err != nil {
				return err
			}
			defer rc.Close()

			plan, err := staging.Assemble(staging.Params{
				Tree:     rc.Tree,
				Layout:   rc.Layout,
				Window:   rc.Window,
				Policies: rc.Policies,
			})
			if err != nil {
				return err
			}
			if asYAML {
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(plan)
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}

	cmd.Flags().StringVarP(&startDate, "start-date", "s", "", "Current date of the run, overriding the date file")
	cmd.Flags().IntVarP(&runNumber, "run-number", "r", 0, "Run number, overriding the date file")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the full plan as YAML")

	return cmd
}

// inspectContext builds a read-only run context: check mode keeps the
// history, mirror and notifier closed and nothing is persisted.
func inspectContext(ctx context.Context, cmd *cobra.Command, inv orchestrator.Invocation) (*orchestrator.RunContext, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	if (inv.StartDate == "") != (inv.RunNumber == 0) {
		return nil, config.NewConfigError("--start-date", "must be given together with --run-number")
	}
	inv.Check = true
	return orchestrator.Prepare(ctx, inv, orchestrator.Deps{
		Settings: settings,
		Logger:   GetLogger(),
		Out:      cmd.OutOrStdout(),
	})
}

func printPlan(w io.Writer, plan *staging.Plan) {
	fmt.Fprintf(w, "Run %s\n", plan.Stamp)
	fmt.Fprintf(w, "  run dir:  %s\n", plan.RunDir)
	fmt.Fprintf(w, "  work dir: %s\n\n", plan.WorkDir)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tCATEGORY\tKEY\tSOURCE\tTARGET")
	for _, e := range plan.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Model, e.Category, e.Key, e.SourcePath, e.TargetPath)
	}
	tw.Flush()

	counts := plan.Counts()
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	fmt.Fprintln(w)
	for _, c := range cats {
		fmt.Fprintf(w, "%-12s %d\n", c, counts[c])
	}
}
