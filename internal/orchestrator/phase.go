package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rescale/simchain/internal/audit"
	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/history"
	"github.com/rescale/simchain/internal/recipe"
	"github.com/rescale/simchain/internal/runwindow"
	"github.com/rescale/simchain/internal/workflow"
)

// Execute runs the invoked phase and chains its successors.
//
// Batch and shell phases invoked from outside their allocation only
// submit themselves; their observe_ companion chains the successors once
// the payload exits. Inside an allocation a batch phase runs its recipe
// and leaves chaining to that companion as well. Every other phase runs
// its recipe, writes start and done audit lines and resubmits.
func Execute(ctx context.Context, rc *RunContext) error {
	name := rc.Invocation.Phase
	observing := strings.HasPrefix(name, workflow.ObservePrefix)

	phase, err := rc.Graph.Phase(name)
	if err != nil {
		if _, ok := rc.Book.Steps(name); !ok || observing {
			return config.WrapConfigError("--task", "not a phase of this workflow", err)
		}
		// Standalone phases such as inspect have no place in the graph.
		phase = nil
	}

	steps, chain, err := rc.plan(name, phase, observing)
	if err != nil {
		return err
	}

	if len(steps) == 1 && steps[0] == StepSubmitSelf {
		// The launcher writes the start line once the job id is known.
		_, err = recipe.Run(ctx, rc.Steps, steps, rc, nil)
		return err
	}

	rc.transition(ctx, name, rc.Window, rc.Invocation.JobID, audit.EventStart)
	rc, err = recipe.Run(ctx, rc.Steps, steps, rc, func(step string) {
		rc.Logger.Debug().Str("step", step).Msg("Running step")
	})
	if err != nil {
		rc.Logger.Error().Err(err).Msg("Phase failed")
		return err
	}
	if observing {
		rc.transition(ctx, phase.Name, rc.Window, rc.Invocation.JobID, audit.EventDone)
	}
	rc.transition(ctx, name, rc.Window, rc.Invocation.JobID, audit.EventDone)

	if !chain {
		return nil
	}
	return rc.resubmit(ctx, name)
}

// plan picks the step list of the invocation and whether successors
// are chained afterwards.
func (rc *RunContext) plan(name string, phase *workflow.Phase, observing bool) ([]string, bool, error) {
	if observing {
		steps, _ := rc.Book.Steps(observeRecipe)
		return steps, true, nil
	}
	if phase != nil && (phase.Mode == workflow.ModeBatch || phase.Mode == workflow.ModeShell) {
		if phase.Mode == workflow.ModeBatch && rc.Adapter.DetectSubmitted() {
			steps, ok := rc.Book.Steps(name)
			if !ok {
				return nil, false, config.NewConfigError("general.recipes."+name, "batch phase %s has no recipe to run inside its allocation", name)
			}
			return steps, false, nil
		}
		return []string{StepSubmitSelf}, false, nil
	}
	steps, ok := rc.Book.Steps(name)
	if !ok {
		return nil, false, config.NewConfigError("general.recipes."+name, "no recipe for phase %s", name)
	}
	return steps, phase != nil, nil
}

// resubmit hands off the successors of the completed phase.
func (rc *RunContext) resubmit(ctx context.Context, completed string) error {
	engine := &workflow.Engine{
		Graph:    rc.Graph,
		Launcher: launcher{rc: rc},
		Logger:   rc.Logger.Named("workflow"),
	}
	if !rc.Invocation.Check {
		engine.DateFile = rc.Layout.DateFile()
	}
	out, err := engine.Resubmit(ctx, completed, rc.Window)
	if out.Complete {
		msg := fmt.Sprintf("Experiment %s reached its final date %s after run %d",
			rc.Layout.ExpID, rc.Window.FinalDate, rc.Window.RunNumber)
		fmt.Fprintln(rc.Out, msg)
		rc.Notifier.ExperimentComplete(ctx, rc.payload(completed, msg))
	}
	for _, f := range failures(err) {
		p := rc.payload(f.phase, f.err.Error())
		if f.run {
			p.JobID = f.jobID
			rc.Notifier.RunFailed(ctx, p)
		} else {
			rc.Notifier.SubmitFailed(ctx, p)
		}
	}
	return err
}

type failure struct {
	phase string
	jobID string
	run   bool
	err   error
}

// failures flattens joined errors into failed hand-offs and failed
// in-process runs. A run failure is not searched further: the child has
// already reported what failed inside it.
func failures(err error) []failure {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []failure
		for _, e := range joined.Unwrap() {
			out = append(out, failures(e)...)
		}
		return out
	}
	var re *workflow.RunError
	if errors.As(err, &re) {
		return []failure{{phase: re.Phase, jobID: re.JobID, run: true, err: re}}
	}
	var se *workflow.SubmitError
	if errors.As(err, &se) {
		return []failure{{phase: se.Phase, err: se}}
	}
	return nil
}

// transition appends an audit line and mirrors it into the history.
// Neither failure stops the phase.
func (rc *RunContext) transition(ctx context.Context, phase string, w runwindow.Window, jobID string, event audit.Event) {
	if rc.Invocation.Check {
		return
	}
	entry, err := rc.Audit.Append(audit.Entry{
		Phase:     phase,
		RunNumber: w.RunNumber,
		Date:      w.CurrentDate.String(),
		JobID:     jobID,
		Event:     event,
	})
	if err != nil {
		rc.Logger.Warn().Err(err).Msg("Failed to write audit log")
	}
	if rc.History == nil {
		return
	}
	if _, err := rc.History.RecordTransition(ctx, history.Transition{
		Time:      entry.Time,
		Phase:     entry.Phase,
		RunNumber: entry.RunNumber,
		Date:      entry.Date,
		JobID:     entry.JobID,
		Event:     string(entry.Event),
	}); err != nil {
		rc.Logger.Warn().Err(err).Msg("Failed to record transition")
	}
}
