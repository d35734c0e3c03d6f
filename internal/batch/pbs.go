package batch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/shell"
)

// PBS drives qsub, qstat and qdel. Executables are launched MPMD style
// by mpirun, so no hostfile is written.
type PBS struct {
	base
}

// NewPBS returns a PBS adapter running clients through runner.
func NewPBS(runner shell.Runner) *PBS {
	return &PBS{base: newBase(runner)}
}

func (p *PBS) Name() string     { return "pbs" }
func (p *PBS) JobIDVar() string { return "PBS_JOBID" }

func (p *PBS) DetectSubmitted() bool {
	_, ok := p.CurrentJobID()
	return ok
}

func (p *PBS) CurrentJobID() (string, bool) {
	return p.envJobID("PBS_JOBID")
}

func (p *PBS) ComputeRequirements(tree *config.Tree, phase, _ string) (Requirements, error) {
	return ComputeRequirements(tree, phase)
}

func (p *PBS) directives(j Job) []string {
	c := j.Computer
	cpn := c.CoresPerNode
	if cpn <= 0 || cpn > j.Req.Tasks {
		cpn = j.Req.Tasks
	}
	d := []string{
		"-q " + c.Partition,
		"-l walltime=" + c.TimeLimit,
		fmt.Sprintf("-l select=%d:ncpus=%d:mpiprocs=%d", j.Req.Nodes, cpn, cpn),
	}
	if j.OutputPath != "" {
		d = append(d, "-o "+j.OutputPath, "-j oe")
	}
	d = append(d, "-N "+j.name())

	if c.Account != "" {
		d = append(d, "-A "+c.Account)
	}
	if c.MailType != "" {
		d = append(d, "-m "+c.MailType)
	}
	if c.MailUser != "" {
		d = append(d, "-M "+c.MailUser)
	}
	if c.Exclusive && IsComputePhase(j.Phase) {
		d = append(d, "-l place=excl")
	}
	for _, f := range c.ExtraFlags {
		if strings.TrimSpace(f) != "" {
			d = append(d, f)
		}
	}
	return d
}

func (p *PBS) launcher(j Job) (string, error) {
	if !IsComputePhase(j.Phase) {
		return j.payload(), nil
	}
	c := j.Computer
	flags := ""
	if c.LauncherFlags != "" {
		flags = " " + c.LauncherFlags
	}

	var parts []string
	if c.Heterogeneous {
		assignments, err := Partition(j.Req, c.Groups, c.CoresPerNode, j.Req.Nodes, c.NodeList)
		if err != nil {
			return "", err
		}
		for _, a := range assignments {
			host := ""
			if len(a.NodeNames) > 0 {
				host = "-host " + strings.Join(a.NodeNames, ",") + " "
			}
			for _, r := range a.Ranks {
				parts = append(parts, fmt.Sprintf("%s-np %d %s", host, r.Tasks(), r.Executable))
			}
		}
	} else {
		for _, r := range j.Req.Ranks {
			parts = append(parts, fmt.Sprintf("-np %d %s", r.Tasks(), r.Executable))
		}
	}
	return "time mpirun" + flags + " " + joinGroups(parts, " : ") + " &", nil
}

func (p *PBS) BuildScript(j Job) (string, error) {
	if err := j.validate(); err != nil {
		return "", err
	}
	launch, err := p.launcher(j)
	if err != nil {
		return "", err
	}
	return assemble(j, "#PBS", p.directives(j), launch), nil
}

func (p *PBS) SubmitCommands(scriptPath string) []string {
	return []string{"qsub " + scriptPath}
}

func (p *PBS) ParseJobID(output string) (string, error) {
	id := strings.TrimSpace(output)
	if id == "" || strings.ContainsAny(id, " \t\n") {
		return "", fmt.Errorf("no job id in qsub output %q", id)
	}
	return id, nil
}

func (p *PBS) CancelCommand(id string) string {
	return "qdel " + id
}

var qstatPattern = regexp.MustCompile(`(?m)^\s*job_state\s*=\s*(\w)`)

var pbsStates = map[string]State{
	"Q": StatePending,
	"W": StatePending,
	"T": StatePending,
	"R": StateRunning,
	"B": StateRunning,
	"E": StateCompleting,
	"H": StateHeld,
	"S": StateSuspended,
	"U": StateSuspended,
	"F": StateCompleted,
	"X": StateCompleted,
}

// ParseQstat maps the job_state attribute of `qstat -f` output.
func ParseQstat(output string) (State, bool) {
	m := qstatPattern.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	if st, ok := pbsStates[m[1]]; ok {
		return st, true
	}
	return StateUnknown, true
}

func (p *PBS) JobState(ctx context.Context, id string) (State, bool, error) {
	id, err := quoteID(id)
	if err != nil {
		return "", false, err
	}
	res, err := p.runner.Run(ctx, "", "qstat -f "+id)
	if err != nil {
		var ee *shell.ExitError
		if errors.As(err, &ee) && strings.Contains(ee.Output, "Unknown Job Id") {
			return "", false, nil
		}
		return "", false, fmt.Errorf("qstat failed: %w", err)
	}
	st, ok := ParseQstat(res.Output)
	return st, ok, nil
}

func (p *PBS) StillRunning(ctx context.Context, id string) (bool, error) {
	return stillRunning(ctx, p, id)
}
