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

// Slurm drives sbatch, squeue and scancel.
type Slurm struct {
	base
}

// NewSlurm returns a Slurm adapter running clients through runner.
func NewSlurm(runner shell.Runner) *Slurm {
	return &Slurm{base: newBase(runner)}
}

func (s *Slurm) Name() string     { return "slurm" }
func (s *Slurm) JobIDVar() string { return "SLURM_JOB_ID" }

func (s *Slurm) DetectSubmitted() bool {
	_, ok := s.CurrentJobID()
	return ok
}

func (s *Slurm) CurrentJobID() (string, bool) {
	return s.envJobID("SLURM_JOB_ID", "SLURM_JOBID")
}

// ComputeRequirements writes the --multi-prog file for homogeneous
// compute jobs.
func (s *Slurm) ComputeRequirements(tree *config.Tree, phase, hostfile string) (Requirements, error) {
	req, err := ComputeRequirements(tree, phase)
	if err != nil {
		return req, err
	}
	if !IsComputePhase(phase) || hostfile == "" {
		return req, nil
	}
	c, err := ComputerFromTree(tree)
	if err != nil {
		return req, err
	}
	if c.Heterogeneous {
		assignments, err := Partition(req, c.Groups, c.CoresPerNode, req.Nodes, c.NodeList)
		if err != nil {
			return req, err
		}
		for _, a := range assignments {
			if len(a.Ranks) > 1 {
				if err := WriteHostfile(groupHostfile(hostfile, a.Group), a.Ranks); err != nil {
					return req, err
				}
			}
		}
		return req, nil
	}
	return req, WriteHostfile(hostfile, req.Ranks)
}

func groupHostfile(hostfile, group string) string {
	return hostfile + "_" + group
}

func (s *Slurm) directives(j Job) []string {
	c := j.Computer
	d := []string{
		"--partition=" + c.Partition,
		"--time=" + c.TimeLimit,
		fmt.Sprintf("--ntasks=%d", j.Req.Tasks),
	}
	if c.Heterogeneous && IsComputePhase(j.Phase) {
		d = append(d, fmt.Sprintf("--nodes=%d", j.Req.Nodes))
	}
	if j.OutputPath != "" {
		d = append(d, "--output="+j.OutputPath, "--error="+j.OutputPath)
	}
	d = append(d, "--job-name="+j.name())

	if c.Account != "" {
		d = append(d, "--account="+c.Account)
	}
	if c.MailType != "" {
		d = append(d, "--mail-type="+c.MailType)
	}
	if c.MailUser != "" {
		d = append(d, "--mail-user="+c.MailUser)
	}
	if c.Hyperthreading {
		d = append(d, "--hint=multithread")
	}
	if c.Exclusive && IsComputePhase(j.Phase) {
		d = append(d, "--exclusive")
	}
	for _, f := range c.ExtraFlags {
		if strings.TrimSpace(f) != "" {
			d = append(d, f)
		}
	}
	return d
}

func (s *Slurm) launcher(j Job) (string, error) {
	if !IsComputePhase(j.Phase) {
		return j.payload(), nil
	}
	c := j.Computer
	flags := ""
	if c.LauncherFlags != "" {
		flags = " " + c.LauncherFlags
	}

	if !c.Heterogeneous {
		if j.Hostfile == "" {
			return "", fmt.Errorf("slurm compute job needs a hostfile")
		}
		return fmt.Sprintf("time srun -l --kill-on-bad-exit=1 --cpu_bind=cores%s --multi-prog %s &", flags, j.Hostfile), nil
	}

	assignments, err := Partition(j.Req, c.Groups, c.CoresPerNode, j.Req.Nodes, c.NodeList)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(assignments))
	for _, a := range assignments {
		part := fmt.Sprintf("--nodes=%d --ntasks=%d", a.Nodes, a.Tasks)
		if len(a.NodeNames) > 0 {
			part += " --nodelist=" + strings.Join(a.NodeNames, ",")
		}
		if len(a.Ranks) == 1 {
			part += " " + a.Ranks[0].Executable
		} else {
			part += " --multi-prog " + groupHostfile(j.Hostfile, a.Group)
		}
		parts = append(parts, part)
	}
	return "time srun -l --kill-on-bad-exit=1" + flags + " " + joinGroups(parts, " : ") + " &", nil
}

func (s *Slurm) BuildScript(j Job) (string, error) {
	if err := j.validate(); err != nil {
		return "", err
	}
	launch, err := s.launcher(j)
	if err != nil {
		return "", err
	}
	return assemble(j, "#SBATCH", s.directives(j), launch), nil
}

func (s *Slurm) SubmitCommands(scriptPath string) []string {
	return []string{"sbatch " + scriptPath}
}

var sbatchPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

func (s *Slurm) ParseJobID(output string) (string, error) {
	m := sbatchPattern.FindStringSubmatch(output)
	if m == nil {
		return "", fmt.Errorf("no job id in sbatch output %q", strings.TrimSpace(output))
	}
	return m[1], nil
}

func (s *Slurm) CancelCommand(id string) string {
	return "scancel " + id
}

var slurmStates = map[string]State{
	"PENDING":       StatePending,
	"CONFIGURING":   StatePending,
	"RUNNING":       StateRunning,
	"COMPLETING":    StateCompleting,
	"SUSPENDED":     StateSuspended,
	"STOPPED":       StateSuspended,
	"COMPLETED":     StateCompleted,
	"FAILED":        StateFailed,
	"TIMEOUT":       StateFailed,
	"NODE_FAIL":     StateFailed,
	"OUT_OF_MEMORY": StateFailed,
	"CANCELLED":     StateCancelled,
	"PREEMPTED":     StateCancelled,
}

// ParseSqueue maps the first line of `squeue -h -o %T` output.
func ParseSqueue(output string) (State, bool) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(output), "\n", 2)[0])
	if line == "" {
		return "", false
	}
	if st, ok := slurmStates[strings.ToUpper(line)]; ok {
		return st, true
	}
	return StateUnknown, true
}

func (s *Slurm) JobState(ctx context.Context, id string) (State, bool, error) {
	id, err := quoteID(id)
	if err != nil {
		return "", false, err
	}
	res, err := s.runner.Run(ctx, "", "squeue -h -j "+id+" -o %T")
	if err != nil {
		var ee *shell.ExitError
		if errors.As(err, &ee) && strings.Contains(ee.Output, "Invalid job id") {
			return "", false, nil
		}
		return "", false, fmt.Errorf("squeue failed: %w", err)
	}
	st, ok := ParseSqueue(res.Output)
	return st, ok, nil
}

func (s *Slurm) StillRunning(ctx context.Context, id string) (bool, error) {
	return stillRunning(ctx, s, id)
}
