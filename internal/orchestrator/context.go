// Package orchestrator executes one phase invocation: it builds the run
// context, runs the phase recipe and hands off the successors.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rescale/simchain/internal/archive"
	"github.com/rescale/simchain/internal/audit"
	"github.com/rescale/simchain/internal/batch"
	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/history"
	"github.com/rescale/simchain/internal/http"
	"github.com/rescale/simchain/internal/logging"
	"github.com/rescale/simchain/internal/notify"
	"github.com/rescale/simchain/internal/progress"
	"github.com/rescale/simchain/internal/recipe"
	"github.com/rescale/simchain/internal/runwindow"
	"github.com/rescale/simchain/internal/shell"
	"github.com/rescale/simchain/internal/staging"
	"github.com/rescale/simchain/internal/workflow"
)

// Invocation is what the process was started with.
type Invocation struct {
	ConfigPath string
	Phase      string
	// PID and JobID identify the process an observe_ phase watches.
	PID   int
	JobID string
	// StartDate and RunNumber override the date file when both are set.
	StartDate string
	RunNumber int
	// Check renders plans, scripts and the hostfile without submitting,
	// staging or persisting anything.
	Check bool
}

// RunContext is threaded through every step of a phase. Steps read
// their inputs from it and store their results on it; nothing is global.
type RunContext struct {
	Invocation Invocation
	Tree       *config.Tree
	Layout     config.Layout
	Settings   *config.Settings
	Graph      *workflow.Graph
	Adapter    batch.Adapter
	Runner     shell.Runner
	Window     runwindow.Window
	Policies   *staging.Policies
	Steps      *recipe.Registry[*RunContext]
	Book       recipe.Book

	Plan     *staging.Plan
	Report   *staging.Report
	Unknown  []string
	Mirrored []archive.Uploaded

	Audit    *audit.Log
	History  *history.Store
	Mirror   *archive.Mirror
	Notifier *notify.Notifier
	Logger   *logging.Logger
	// Out receives check-mode and inspect output.
	Out io.Writer

	// Self is the command line prefix re-invoking this binary.
	Self string
	// Alive and Sleep drive the monitor; nil uses the real ones.
	Alive func(pid int) bool
	Sleep func(ctx context.Context, d time.Duration) error

	// sharedStores is set on in-process children, which must not close
	// the parent's history store.
	sharedStores bool
}

// Deps are collaborators injected by the caller.
type Deps struct {
	Runner   shell.Runner
	Settings *config.Settings
	Logger   *logging.Logger
	Out      io.Writer
	Self     string
}

// Prepare loads the run configuration and every collaborator of one
// phase invocation. Configuration problems come back as ConfigErrors.
func Prepare(ctx context.Context, inv Invocation, deps Deps) (*RunContext, error) {
	tree, err := config.LoadTree(inv.ConfigPath)
	if err != nil {
		return nil, config.WrapConfigError(inv.ConfigPath, "cannot load run configuration", err)
	}
	return NewRunContext(ctx, tree, inv, deps)
}

// NewRunContext builds a context around an already loaded tree.
func NewRunContext(ctx context.Context, tree *config.Tree, inv Invocation, deps Deps) (*RunContext, error) {
	if deps.Settings == nil {
		deps.Settings = config.NewSettings()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Runner == nil {
		deps.Runner = shell.NewExec()
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Self == "" {
		deps.Self = selfCommand()
	}

	rc := &RunContext{
		Invocation: inv,
		Tree:       tree,
		Settings:   deps.Settings,
		Runner:     deps.Runner,
		Out:        deps.Out,
		Self:       deps.Self,
		Report:     &staging.Report{},
	}

	var err error
	if rc.Layout, err = config.NewLayout(tree); err != nil {
		return nil, err
	}
	if rc.Adapter, err = batch.FromTree(tree, deps.Runner); err != nil {
		return nil, err
	}
	if rc.Graph, err = workflow.GraphFromTree(tree); err != nil {
		return nil, err
	}
	if rc.Policies, err = staging.LoadPolicies(tree); err != nil {
		return nil, err
	}
	if rc.Window, err = loadWindow(tree, rc.Layout, inv); err != nil {
		return nil, err
	}
	rc.Logger = deps.Logger.WithLogger(deps.Logger.With().
		Str("phase", inv.Phase).
		Int("run", rc.Window.RunNumber).
		Logger())

	rc.Steps = Registry()
	if rc.Book, err = recipe.BookFromTree(tree, DefaultBook()); err != nil {
		return nil, err
	}
	if err := recipe.Validate(rc.Book, rc.Steps); err != nil {
		return nil, err
	}

	if rc.Audit, err = audit.Open(rc.Layout.AuditLog()); err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	if err := rc.openSideChannels(ctx); err != nil {
		return nil, err
	}
	return rc, nil
}

func loadWindow(tree *config.Tree, layout config.Layout, inv Invocation) (runwindow.Window, error) {
	spec, err := runwindow.SpecFromTree(tree)
	if err != nil {
		return runwindow.Window{}, err
	}
	if inv.StartDate != "" && inv.RunNumber > 0 {
		current, err := spec.Calendar.Parse(inv.StartDate)
		if err != nil {
			return runwindow.Window{}, config.WrapConfigError("--start-date", "not valid in the "+spec.Calendar.String()+" calendar", err)
		}
		return runwindow.New(spec, current, inv.RunNumber), nil
	}
	return runwindow.Load(layout.DateFile(), spec)
}

// openSideChannels sets up history, mirror and notifications from the
// tool settings. Check mode leaves them all off.
func (rc *RunContext) openSideChannels(ctx context.Context) error {
	s := rc.Settings
	if rc.Invocation.Check {
		return nil
	}
	if s.History.Enabled {
		path := s.History.Path
		if path == "" {
			path = rc.Layout.HistoryDB()
		}
		store, err := history.Open(ctx, path)
		if err != nil {
			// History is bookkeeping; a phase still runs without it.
			rc.Logger.Warn().Err(err).Str("path", path).Msg("Run history disabled")
		} else {
			rc.History = store
		}
	}

	mirror, err := archive.FromSettings(ctx, s.Archive, s.Proxy, rc.Logger,
		archive.WithProgress(s.Staging.Progress))
	if err != nil {
		return config.WrapConfigError("archive", "cannot set up mirror", err)
	}
	rc.Mirror = mirror

	if s.Notify.WebhookURL != "" {
		base, err := http.ConfigureHTTPClient(s.Proxy)
		if err != nil {
			return config.WrapConfigError("proxy", "cannot configure HTTP client", err)
		}
		client := http.NewRetryingClient(base, 3, rc.Logger)
		rc.Notifier = notify.NewNotifier(s.Notify, client, rc.Logger)
	}
	return nil
}

// Close releases what the context opened.
func (rc *RunContext) Close() error {
	if rc == nil || rc.sharedStores {
		return nil
	}
	return rc.History.Close()
}

// child derives the context of an in-process successor. The tree is
// cloned so steps of the child cannot leak changes into the parent.
func (rc *RunContext) child(phase string, w runwindow.Window, jobID string) *RunContext {
	inv := rc.Invocation
	inv.Phase = phase
	inv.JobID = jobID
	inv.PID = 0
	inv.StartDate = w.CurrentDate.String()
	inv.RunNumber = w.RunNumber

	c := *rc
	c.Invocation = inv
	c.Tree = rc.Tree.Clone()
	c.Window = w
	c.Plan = nil
	c.Report = &staging.Report{}
	c.Unknown = nil
	c.Mirrored = nil
	c.sharedStores = true
	c.Logger = rc.Logger.WithLogger(rc.Logger.With().Str("phase", phase).Int("run", w.RunNumber).Logger())
	return &c
}

// stagingOptions wires logging and the byte progress bar into staging.
func (rc *RunContext) stagingOptions() staging.Options {
	return staging.Options{
		Logger:       rc.Logger.Named("staging"),
		Progress:     progress.New(rc.Settings.Staging.Progress),
		SafetyMargin: rc.Settings.Staging.DiskSafetyMargin,
	}
}

func (rc *RunContext) payload(phase, message string) notify.Payload {
	return notify.Payload{
		ExpID:     rc.Layout.ExpID,
		Phase:     phase,
		RunNumber: rc.Window.RunNumber,
		Date:      rc.Window.CurrentDate.String(),
		JobID:     rc.Invocation.JobID,
		Message:   message,
	}
}

func selfCommand() string {
	exe, err := os.Executable()
	if err != nil {
		return "simchain"
	}
	return exe
}
