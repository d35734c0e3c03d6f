package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/monitor"
	"github.com/rescale/simchain/internal/shell"
	"github.com/rescale/simchain/internal/staging"
	"github.com/rescale/simchain/internal/workflow"
)

// monitorStep watches the payload of the observed phase until it exits.
func monitorStep(ctx context.Context, rc *RunContext) (*RunContext, error) {
	watched := strings.TrimPrefix(rc.Invocation.Phase, workflow.ObservePrefix)
	if rc.Invocation.Check {
		fmt.Fprintf(rc.Out, "would monitor %s (pid %d, job %s)\n", watched, rc.Invocation.PID, rc.Invocation.JobID)
		return rc, nil
	}
	if rc.Invocation.PID <= 0 {
		return rc, config.NewConfigError("--pid", "observing %s needs the pid of its payload", watched)
	}

	triggers, err := monitor.TriggersFromTree(rc.Tree, rc.Layout.WorkDir(rc.Window.Stamp()))
	if err != nil {
		return rc, err
	}

	cancel := monitor.CancelWith(rc.Runner, rc.Adapter.CancelCommand)
	if p, err := rc.Graph.Phase(watched); err == nil && p.Mode == workflow.ModeShell {
		cancel = monitor.CancelWith(rc.Runner, func(string) string {
			return fmt.Sprintf("kill %d", rc.Invocation.PID)
		})
	}

	m := monitor.New(monitor.Config{
		Phase:      watched,
		PID:        rc.Invocation.PID,
		JobID:      rc.Invocation.JobID,
		Triggers:   triggers,
		PollPeriod: rc.Settings.PollPeriod(),
		StatusPath: rc.Layout.MonitorStatus(watched),
		Alive:      rc.Alive,
		Sleep:      rc.Sleep,
		Cancel:     cancel,
		Logger:     rc.Logger.Named("monitor"),
	})
	_, err = m.Run(ctx)
	var killed *monitor.KilledError
	if errors.As(err, &killed) {
		rc.Notifier.MonitorKilled(ctx, rc.payload(watched, killed.Message))
	}
	return rc, err
}

// submitSelf hands the invoked batch or shell phase to its launcher.
func submitSelf(ctx context.Context, rc *RunContext) (*RunContext, error) {
	p, err := rc.Graph.Phase(rc.Invocation.Phase)
	if err != nil {
		return rc, err
	}
	l := launcher{rc: rc}
	var id string
	switch p.Mode {
	case workflow.ModeBatch:
		id, err = l.SubmitBatch(ctx, p, rc.Window)
	case workflow.ModeShell:
		id, err = l.RunShell(ctx, p, rc.Window)
	default:
		return rc, fmt.Errorf("phase %s is not submitted externally", p.Name)
	}
	if err != nil {
		err = &workflow.SubmitError{Phase: p.Name, Mode: p.Mode, Err: err}
		rc.Notifier.SubmitFailed(ctx, rc.payload(p.Name, err.Error()))
		return rc, err
	}
	rc.Logger.Info().Str("job_id", id).Str("mode", string(p.Mode)).Msg("Submitted")
	fmt.Fprintf(rc.Out, "%s submitted: %s\n", p.Name, id)
	return rc, nil
}

// inspect prints the window, the staging plan and the latest audit lines.
func inspect(_ context.Context, rc *RunContext) (*RunContext, error) {
	w := rc.Window
	fmt.Fprintf(rc.Out, "experiment: %s (%s)\n", rc.Layout.ExpID, rc.Layout.ExpDir)
	fmt.Fprintf(rc.Out, "run %d: %s -> %s (final %s, %s calendar)\n",
		w.RunNumber, w.CurrentDate, w.EndDate, w.FinalDate, w.Calendar)
	if w.Ended() {
		fmt.Fprintln(rc.Out, "this is the final run")
	}

	if rc.Plan == nil {
		plan, err := staging.Assemble(staging.Params{Tree: rc.Tree, Layout: rc.Layout, Window: w, Policies: rc.Policies})
		if err != nil {
			return rc, err
		}
		rc.Plan = plan
	}
	counts := rc.Plan.Counts()
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	fmt.Fprintf(rc.Out, "plan %s: %d entries\n", rc.Plan.Stamp, len(rc.Plan.Entries))
	for _, c := range cats {
		fmt.Fprintf(rc.Out, "  %-12s %d\n", c, counts[c])
	}

	statuses, _ := filepath.Glob(filepath.Join(rc.Layout.ScriptsDir(), "monitor_*.json"))
	for _, path := range statuses {
		st, err := monitor.LoadStatus(path)
		if err != nil {
			continue
		}
		fmt.Fprintf(rc.Out, "monitor %s: %s after %.0fs (job %s)\n", st.Phase, st.State, st.Elapsed, st.JobID)
	}

	if lines := rc.Audit.Tail(10); len(lines) > 0 {
		fmt.Fprintln(rc.Out, "recent transitions:")
		for _, l := range lines {
			fmt.Fprintf(rc.Out, "  %s\n", l)
		}
	}
	return rc, nil
}

// viz runs general.viz_command in the experiment directory.
func viz(ctx context.Context, rc *RunContext) (*RunContext, error) {
	cmd := rc.Tree.Section("general").String("viz_command", "")
	if cmd == "" {
		rc.Logger.Info().Msg("No viz_command configured")
		return rc, nil
	}
	if rc.Invocation.Check {
		fmt.Fprintf(rc.Out, "would run: %s\n", cmd)
		return rc, nil
	}
	res, err := rc.Runner.Run(ctx, rc.Layout.ExpDir, cmd)
	if err != nil {
		var exitErr *shell.ExitError
		if errors.As(err, &exitErr) {
			rc.Logger.Error().Int("exit_code", exitErr.ExitCode).Str("output", exitErr.Output).Msg("Visualisation failed")
		}
		return rc, fmt.Errorf("viz command failed: %w", err)
	}
	rc.Logger.Info().Int("output_bytes", len(res.Output)).Msg("Visualisation finished")
	return rc, nil
}
