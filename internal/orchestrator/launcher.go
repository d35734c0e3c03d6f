package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rescale/simchain/internal/audit"
	"github.com/rescale/simchain/internal/batch"
	"github.com/rescale/simchain/internal/constants"
	"github.com/rescale/simchain/internal/runwindow"
	"github.com/rescale/simchain/internal/workflow"
)

// CheckJobID is returned for submissions skipped in check mode.
const CheckJobID = "check"

// launcher hands successors off on behalf of a RunContext.
type launcher struct {
	rc *RunContext
}

var _ workflow.Launcher = launcher{}

// SubmitBatch renders the phase's submission script, writes it next to
// the hostfile and runs the scheduler's submit commands. The script
// ends with an observe_ invocation of this binary watching the payload.
func (l launcher) SubmitBatch(ctx context.Context, p *workflow.Phase, w runwindow.Window) (string, error) {
	rc := l.rc
	job, err := l.job(p, w)
	if err != nil {
		return "", err
	}
	script, err := rc.Adapter.BuildScript(job)
	if err != nil {
		return "", err
	}
	path := rc.Layout.ScriptPath(p.Name, w.Stamp())
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPerm); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("failed to write submission script: %w", err)
	}

	commands := rc.Adapter.SubmitCommands(path)
	if rc.Invocation.Check {
		fmt.Fprintf(rc.Out, "script: %s\n", path)
		for _, c := range commands {
			fmt.Fprintf(rc.Out, "would run: %s\n", c)
		}
		return CheckJobID, nil
	}

	var output string
	for _, c := range commands {
		res, err := rc.Runner.Run(ctx, rc.Layout.ScriptsDir(), c)
		if err != nil {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Output))
		}
		output = res.Output
	}
	jobID, err := rc.Adapter.ParseJobID(output)
	if err != nil {
		return "", err
	}
	rc.transition(ctx, p.Name, w, jobID, audit.EventStart)
	return jobID, nil
}

// job collects what the adapter needs to render p's script.
func (l launcher) job(p *workflow.Phase, w runwindow.Window) (batch.Job, error) {
	rc := l.rc
	req, err := rc.Adapter.ComputeRequirements(rc.Tree, p.Name, rc.Layout.Hostfile())
	if err != nil {
		return batch.Job{}, err
	}
	computer, err := batch.ComputerFromTree(rc.Tree)
	if err != nil {
		return batch.Job{}, err
	}
	general := rc.Tree.Section("general")

	job := batch.Job{
		Phase:       p.Name,
		ExpID:       rc.Layout.ExpID,
		Computer:    computer,
		Req:         req,
		Environment: general.Strings("environment"),
		WorkDir:     rc.Layout.ExpDir,
		OutputPath:  filepath.Join(rc.Layout.LogDir(), fmt.Sprintf("%s_%s_%s.log", rc.Layout.ExpID, p.Name, w.Stamp())),
		Hostfile:    rc.Layout.Hostfile(),
		Observe: fmt.Sprintf("%s run %s -t %s%s -p ${process} -j ${%s} -s %s -r %d &",
			rc.Self, rc.configPath(), workflow.ObservePrefix, p.Name,
			rc.Adapter.JobIDVar(), w.CurrentDate.String(), w.RunNumber),
	}
	if batch.IsComputePhase(p.Name) {
		job.WorkDir = rc.Layout.WorkDir(w.Stamp())
		return job, nil
	}
	job.Commands = general.Strings(p.Name + "_commands")
	if len(job.Commands) == 0 {
		// Phases without their own commands run simchain inside the allocation.
		job.Commands = []string{fmt.Sprintf("%s run %s -t %s -s %s -r %d",
			rc.Self, rc.configPath(), p.Name, w.CurrentDate.String(), w.RunNumber)}
	}
	return job, nil
}

// RunShell starts the phase's script detached as
// "<script> <phase> <date> <run_number>" plus an observe_ companion
// watching its pid, and returns the pid.
func (l launcher) RunShell(ctx context.Context, p *workflow.Phase, w runwindow.Window) (string, error) {
	rc := l.rc
	cmd := fmt.Sprintf("%s %s %s %d", p.Script, p.Name, w.CurrentDate.String(), w.RunNumber)
	if rc.Invocation.Check {
		fmt.Fprintf(rc.Out, "would run: %s\n", cmd)
		return CheckJobID, nil
	}
	if err := os.MkdirAll(rc.Layout.LogDir(), constants.DirPerm); err != nil {
		return "", err
	}
	logPath := filepath.Join(rc.Layout.LogDir(), fmt.Sprintf("%s_%s_%s.log", rc.Layout.ExpID, p.Name, w.Stamp()))
	pid, err := rc.Runner.Start(rc.Layout.ExpDir, cmd, logPath)
	if err != nil {
		return "", err
	}
	id := strconv.Itoa(pid)
	rc.transition(ctx, p.Name, w, id, audit.EventStart)

	observe := fmt.Sprintf("%s run %s -t %s%s -p %d -j %s -s %s -r %d",
		rc.Self, rc.configPath(), workflow.ObservePrefix, p.Name, pid, id, w.CurrentDate.String(), w.RunNumber)
	if _, err := rc.Runner.Start(rc.Layout.ExpDir, observe, logPath); err != nil {
		return id, fmt.Errorf("failed to start observer of %s: %w", p.Name, err)
	}
	return id, nil
}

// RunInProcess executes p inside this process on a cloned tree. The
// child gets a fresh job id and chains its own successors.
func (l launcher) RunInProcess(ctx context.Context, p *workflow.Phase, w runwindow.Window) (string, error) {
	rc := l.rc
	if !constants.IsInProcessPhase(p.Name) {
		return "", fmt.Errorf("phase %s cannot run in-process", p.Name)
	}
	if rc.Invocation.Check {
		fmt.Fprintf(rc.Out, "would run in-process: %s (run %d, %s)\n", p.Name, w.RunNumber, w.CurrentDate)
		return CheckJobID, nil
	}
	id := uuid.NewString()
	child := rc.child(p.Name, w, id)
	if err := Execute(ctx, child); err != nil {
		return id, &workflow.RunError{Phase: p.Name, JobID: id, Err: err}
	}
	return id, nil
}

func (rc *RunContext) configPath() string {
	if p := rc.Tree.Path(); p != "" {
		return p
	}
	return rc.Invocation.ConfigPath
}
