package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/rescale/simchain/internal/logging"
	"github.com/rescale/simchain/internal/runwindow"
)

// Launcher starts a phase in one of the three modes and returns its job
// id. Every call returns once the phase is handed off; the phase itself
// runs asynchronously except in-process phases.
type Launcher interface {
	SubmitBatch(ctx context.Context, p *Phase, w runwindow.Window) (string, error)
	RunShell(ctx context.Context, p *Phase, w runwindow.Window) (string, error)
	RunInProcess(ctx context.Context, p *Phase, w runwindow.Window) (string, error)
}

// SubmitError is a failed hand-off of one successor. It is not retried.
type SubmitError struct {
	Phase string
	Mode  Mode
	Err   error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("failed to submit %s (%s): %v", e.Phase, e.Mode, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// RunError is a successor that was handed off but failed while running.
// Only in-process phases report it; the other modes run detached.
type RunError struct {
	Phase string
	JobID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s (job %s) failed: %v", e.Phase, e.JobID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Submission records one successor that was handed off.
type Submission struct {
	Phase string
	Mode  Mode
	JobID string
}

// Outcome is the result of one resubmission round.
type Outcome struct {
	Submitted []Submission
	// Window is the window the owner was submitted with, advanced when the
	// calendar owner was among the successors.
	Window   runwindow.Window
	Advanced bool
	// Complete is set when the owner found the experiment finished.
	Complete bool
}

// Engine chains phases after completion.
type Engine struct {
	Graph    *Graph
	Launcher Launcher
	// DateFile receives the advanced window. Empty skips persisting.
	DateFile string
	Logger   *logging.Logger

	advanced bool
}

// Resubmit hands off every successor of the completed phase. Non-owning
// successors go first, in list order, with w. The calendar owner goes
// last: the window is advanced and persisted, and when the experiment has
// reached its final date the owner is not submitted. Failures are
// collected and returned together after all successors were attempted.
func (e *Engine) Resubmit(ctx context.Context, completed string, w runwindow.Window) (Outcome, error) {
	log := e.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}
	out := Outcome{Window: w}

	phase, err := e.Graph.Phase(completed)
	if err != nil {
		return out, err
	}

	var (
		errs  []error
		owner *Phase
	)
	for _, name := range phase.Successors {
		next := e.Graph.Phases[name]
		if next.CalendarOwner {
			owner = next
			continue
		}
		if err := e.handOff(ctx, next, w, &out, log); err != nil {
			errs = append(errs, err)
		}
	}
	if owner == nil {
		return out, errors.Join(errs...)
	}

	if e.advanced {
		errs = append(errs, fmt.Errorf("calendar already advanced in this round"))
		return out, errors.Join(errs...)
	}
	e.advanced = true
	window := runwindow.Advance(w)
	out.Window, out.Advanced = window, true
	if e.DateFile != "" {
		if err := runwindow.Persist(window, e.DateFile); err != nil {
			errs = append(errs, fmt.Errorf("failed to persist run window: %w", err))
			return out, errors.Join(errs...)
		}
	}
	log.Info().Int("run_number", window.RunNumber).Str("date", window.CurrentDate.String()).Msg("Calendar advanced")

	if w.Ended() {
		out.Complete = true
		log.Info().Str("final_date", w.FinalDate.String()).Msg("Experiment complete")
		return out, errors.Join(errs...)
	}
	if err := e.handOff(ctx, owner, window, &out, log); err != nil {
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

func (e *Engine) handOff(ctx context.Context, p *Phase, w runwindow.Window, out *Outcome, log *logging.Logger) error {
	jobID, err := e.submit(ctx, p, w)
	var runErr *RunError
	if errors.As(err, &runErr) {
		log.Error().Err(err).Str("phase", p.Name).Str("job_id", jobID).Msg("Phase failed")
		out.Submitted = append(out.Submitted, Submission{Phase: p.Name, Mode: p.Mode, JobID: jobID})
		return err
	}
	if err != nil {
		log.Error().Err(err).Str("phase", p.Name).Msg("Submission failed")
		return err
	}
	log.Info().Str("phase", p.Name).Str("mode", string(p.Mode)).Str("job_id", jobID).Msg("Submitted")
	out.Submitted = append(out.Submitted, Submission{Phase: p.Name, Mode: p.Mode, JobID: jobID})
	return nil
}

func (e *Engine) submit(ctx context.Context, p *Phase, w runwindow.Window) (string, error) {
	var (
		id  string
		err error
	)
	switch p.Mode {
	case ModeBatch:
		id, err = e.Launcher.SubmitBatch(ctx, p, w)
	case ModeShell:
		id, err = e.Launcher.RunShell(ctx, p, w)
	case ModeInProcess:
		id, err = e.Launcher.RunInProcess(ctx, p, w)
	default:
		err = fmt.Errorf("unknown mode %q", p.Mode)
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return id, err
	}
	if err != nil {
		return "", &SubmitError{Phase: p.Name, Mode: p.Mode, Err: err}
	}
	return id, nil
}
