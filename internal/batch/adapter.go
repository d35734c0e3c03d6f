// Package batch talks to HPC batch schedulers. One Adapter exists per
// scheduler family; shared orchestration code never branches on the
// scheduler name.
package batch

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/shell"
)

// State is a scheduler job state normalised across families.
type State string

const (
	StatePending    State = "PENDING"
	StateRunning    State = "RUNNING"
	StateCompleting State = "COMPLETING"
	StateHeld       State = "HELD"
	StateSuspended  State = "SUSPENDED"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateCancelled  State = "CANCELLED"
	StateUnknown    State = "UNKNOWN"
)

// Active reports whether the scheduler still holds the job.
func (s State) Active() bool {
	switch s {
	case StatePending, StateRunning, StateCompleting, StateHeld, StateSuspended:
		return true
	}
	return false
}

// Adapter is the capability set of one scheduler family.
type Adapter interface {
	// Name is the configuration key selecting this adapter.
	Name() string

	// DetectSubmitted reports whether this process runs inside an allocation.
	DetectSubmitted() bool

	// CurrentJobID returns the allocation's job id, if any.
	CurrentJobID() (string, bool)

	// JobIDVar is the shell variable holding the job id inside a script.
	JobIDVar() string

	// ComputeRequirements sums the task count for phase and writes the
	// rank-to-executable artifact to hostfile when the family needs one.
	ComputeRequirements(tree *config.Tree, phase, hostfile string) (Requirements, error)

	// BuildScript renders the submission script for job.
	BuildScript(job Job) (string, error)

	// SubmitCommands returns the command lines handing scriptPath to the
	// scheduler. Running them is the caller's business.
	SubmitCommands(scriptPath string) []string

	// ParseJobID extracts the job id from the submit client's output.
	ParseJobID(output string) (string, error)

	// CancelCommand returns the command line cancelling id.
	CancelCommand(id string) string

	// JobState polls the scheduler once. ok is false when the scheduler
	// no longer knows the job.
	JobState(ctx context.Context, id string) (state State, ok bool, err error)

	// StillRunning polls once and reports whether the job is active.
	StillRunning(ctx context.Context, id string) (bool, error)
}

type base struct {
	runner shell.Runner
	getenv func(string) string
}

func newBase(runner shell.Runner) base {
	return base{runner: runner, getenv: os.Getenv}
}

func (b base) envJobID(keys ...string) (string, bool) {
	for _, k := range keys {
		if v := strings.TrimSpace(b.getenv(k)); v != "" {
			return v, true
		}
	}
	return "", false
}

var factories = map[string]func(shell.Runner) Adapter{
	"slurm": func(r shell.Runner) Adapter { return NewSlurm(r) },
	"pbs":   func(r shell.Runner) Adapter { return NewPBS(r) },
}

// Names lists the supported scheduler families.
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New selects an adapter by name. An unknown name is a configuration error.
func New(name string, runner shell.Runner) (Adapter, error) {
	f, ok := factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, config.NewConfigError("general.scheduler",
			"unknown scheduler %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return f(runner), nil
}

// FromTree selects the adapter named by general.scheduler.
func FromTree(tree *config.Tree, runner shell.Runner) (Adapter, error) {
	name := tree.Section("general").String("scheduler", "")
	if name == "" {
		return nil, config.NewConfigError("general.scheduler", "is required")
	}
	return New(name, runner)
}

// stillRunning backs both adapters' StillRunning.
func stillRunning(ctx context.Context, a Adapter, id string) (bool, error) {
	state, ok, err := a.JobState(ctx, id)
	if err != nil {
		return false, err
	}
	return ok && state.Active(), nil
}

func quoteID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, " \t\n;&|`$'\"") {
		return "", fmt.Errorf("invalid job id %q", id)
	}
	return id, nil
}
