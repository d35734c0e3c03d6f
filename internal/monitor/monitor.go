// Package monitor watches a backgrounded simulation process until it
// exits, scanning its log files for configured error keywords.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rescale/simchain/internal/constants"
	"github.com/rescale/simchain/internal/logging"
	"github.com/rescale/simchain/internal/shell"
)

// State is the monitor's lifecycle state.
type State string

const (
	StateWaiting     State = "WAITING"
	StateErrorWarned State = "ERROR_WARNED"
	StateErrorKilled State = "ERROR_KILLED"
	StateDone        State = "DONE"
)

// finalElapsed forces every trigger due in the last pass.
const finalElapsed = time.Duration(1<<62 - 1)

// KilledError is returned when a kill trigger fired. The hosting process
// exits with constants.ExitMonitorKill.
type KilledError struct {
	Trigger string
	JobID   string
	Message string
}

func (e *KilledError) Error() string {
	return fmt.Sprintf("job %s killed: %s (%s)", e.JobID, e.Message, e.Trigger)
}

// ExitCode returns the process exit status for a kill.
func (e *KilledError) ExitCode() int {
	return constants.ExitMonitorKill
}

// Config wires a Monitor to the process it watches.
type Config struct {
	Phase    string
	PID      int
	JobID    string
	Triggers []*Trigger

	PollPeriod time.Duration
	// StatusPath, when set, receives the persisted status on every change.
	StatusPath string

	// Alive reports process liveness. Defaults to shell.Alive.
	Alive func(pid int) bool
	// Sleep blocks for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// Cancel asks the scheduler to cancel the job.
	Cancel func(ctx context.Context, jobID string) error

	Logger *logging.Logger
}

// Monitor runs the watch loop for one process.
type Monitor struct {
	cfg     Config
	state   State
	elapsed time.Duration
	message string
	now     func() time.Time
}

// New creates a monitor in the WAITING state.
func New(cfg Config) *Monitor {
	if cfg.Alive == nil {
		cfg.Alive = shell.Alive
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = constants.DefaultPollPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	return &Monitor{cfg: cfg, state: StateWaiting, now: time.Now}
}

// State returns the current state.
func (m *Monitor) State() State { return m.state }

// Elapsed returns the monitoring time accumulated so far.
func (m *Monitor) Elapsed() time.Duration { return m.elapsed }

// Run polls until the process exits, then evaluates every trigger one
// last time. It returns a *KilledError when a kill trigger fired and
// ctx.Err() when ctx is cancelled first.
func (m *Monitor) Run(ctx context.Context) (State, error) {
	log := m.cfg.Logger
	log.Info().
		Str("phase", m.cfg.Phase).
		Int("pid", m.cfg.PID).
		Str("job_id", m.cfg.JobID).
		Int("triggers", len(m.cfg.Triggers)).
		Msg("Monitoring started")
	m.persist()

	for m.cfg.Alive(m.cfg.PID) {
		if err := m.evaluate(ctx, m.elapsed, false); err != nil {
			return m.state, err
		}
		if err := m.cfg.Sleep(ctx, m.cfg.PollPeriod); err != nil {
			log.Warn().Err(err).Dur("elapsed", m.elapsed).Msg("Monitoring interrupted")
			return m.state, err
		}
		m.elapsed += m.cfg.PollPeriod
	}

	log.Debug().Dur("elapsed", m.elapsed).Msg("Process exited, final trigger pass")
	if err := m.evaluate(ctx, finalElapsed, true); err != nil {
		return m.state, err
	}

	m.state = StateDone
	m.persist()
	log.Info().Str("phase", m.cfg.Phase).Dur("elapsed", m.elapsed).Msg("Monitoring finished")
	return m.state, nil
}

// evaluate checks every due trigger. Warn triggers fire once per new
// match; the first kill match cancels the job and ends monitoring.
func (m *Monitor) evaluate(ctx context.Context, elapsed time.Duration, final bool) error {
	for _, t := range m.cfg.Triggers {
		if !t.due(elapsed) {
			continue
		}
		count, err := t.countMatches()
		if err != nil {
			m.cfg.Logger.Warn().Err(err).Str("file", t.File).Msg("Cannot read monitored file")
		}
		fired := count > t.matches
		t.matches = count
		if !final {
			t.reschedule(elapsed)
		}
		if !fired {
			continue
		}

		switch t.Action {
		case ActionKill:
			return m.kill(ctx, t)
		default:
			m.state = StateErrorWarned
			m.message = t.Message
			m.cfg.Logger.Warn().
				Str("keyword", t.Keyword).
				Str("file", t.File).
				Dur("elapsed", m.elapsed).
				Msg(t.Message)
			m.persist()
		}
	}
	return nil
}

func (m *Monitor) kill(ctx context.Context, t *Trigger) error {
	m.state = StateErrorKilled
	m.message = t.Message
	m.cfg.Logger.Error().
		Str("keyword", t.Keyword).
		Str("file", t.File).
		Str("job_id", m.cfg.JobID).
		Msgf("Fatal error detected, cancelling job: %s", t.Message)

	if m.cfg.Cancel != nil && m.cfg.JobID != "" {
		if err := m.cfg.Cancel(ctx, m.cfg.JobID); err != nil {
			m.cfg.Logger.Error().Err(err).Str("job_id", m.cfg.JobID).Msg("Job cancellation failed")
		}
	}
	m.persist()
	return &KilledError{Trigger: t.String(), JobID: m.cfg.JobID, Message: t.Message}
}

func (m *Monitor) persist() {
	if m.cfg.StatusPath == "" {
		return
	}
	if err := SaveStatus(m.cfg.StatusPath, m.status()); err != nil {
		m.cfg.Logger.Warn().Err(err).Msg("Failed to save monitor status")
	}
}

// CancelWith returns a Cancel function that runs the command built by
// command through runner.
func CancelWith(runner shell.Runner, command func(jobID string) string) func(context.Context, string) error {
	return func(ctx context.Context, jobID string) error {
		_, err := runner.Run(ctx, "", command(jobID))
		return err
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
