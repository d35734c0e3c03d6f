package batch

import (
	"fmt"
	"strings"

	"github.com/rescale/simchain/internal/config"
)

// Computer holds the machine settings of the computer section.
type Computer struct {
	Partition      string
	TimeLimit      string
	Account        string
	QOS            string
	MailType       string
	MailUser       string
	Hyperthreading bool
	Exclusive      bool
	ExtraFlags     []string
	CoresPerNode   int
	LauncherFlags  string
	Heterogeneous  bool
	Groups         []Group
	NodeList       []string
}

// ComputerFromTree reads the computer section.
func ComputerFromTree(tree *config.Tree) (Computer, error) {
	sec := tree.Section("computer")
	cpn, err := sec.Int("cores_per_node", 0)
	if err != nil {
		return Computer{}, config.WrapConfigError("computer.cores_per_node", "must be an integer", err)
	}
	c := Computer{
		Partition:      sec.String("partition", ""),
		TimeLimit:      sec.String("time_limit", ""),
		Account:        sec.String("account", ""),
		QOS:            sec.String("qos", ""),
		MailType:       sec.String("mail_type", ""),
		MailUser:       sec.String("mail_user", ""),
		Hyperthreading: sec.Bool("hyperthreading", false),
		Exclusive:      sec.Bool("exclusive", false),
		ExtraFlags:     sec.Strings("extra_flags"),
		CoresPerNode:   cpn,
		LauncherFlags:  sec.String("launcher_flags", ""),
		Heterogeneous:  sec.Bool("heterogeneous", false),
		NodeList:       sec.Strings("nodelist"),
	}
	for _, g := range sec.List("groups") {
		c.Groups = append(c.Groups, Group{Name: g.String("name", ""), Models: g.Strings("models")})
	}
	return c, nil
}

// Job is everything needed to render one submission script.
type Job struct {
	Phase       string
	ExpID       string
	Name        string
	Computer    Computer
	Req         Requirements
	Environment []string
	WorkDir     string
	OutputPath  string
	Hostfile    string

	// Commands run instead of the model launcher for non-compute phases.
	Commands []string

	// Observe is the re-invocation line run after the payload starts.
	// It may reference ${process}.
	Observe string
}

func (j Job) validate() error {
	if j.Computer.Partition == "" {
		return config.NewConfigError("computer.partition", "is required for batch submission")
	}
	if j.Computer.TimeLimit == "" {
		return config.NewConfigError("computer.time_limit", "is required for batch submission")
	}
	if j.Req.Tasks <= 0 {
		return fmt.Errorf("phase %s requests no tasks", j.Phase)
	}
	if j.WorkDir == "" {
		return fmt.Errorf("phase %s has no work directory", j.Phase)
	}
	if IsComputePhase(j.Phase) && len(j.Req.Ranks) == 0 {
		return fmt.Errorf("compute phase has no rank assignment")
	}
	if !IsComputePhase(j.Phase) && len(j.Commands) == 0 {
		return fmt.Errorf("phase %s has no commands to run", j.Phase)
	}
	return nil
}

func (j Job) name() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ExpID + "_" + j.Phase
}

// substitute fills the @tasks@ style placeholders of a directive.
func (j Job) substitute(s string) string {
	r := strings.NewReplacer(
		"@tasks@", fmt.Sprint(j.Req.Tasks),
		"@nodes@", fmt.Sprint(j.Req.Nodes),
		"@qos@", j.Computer.QOS,
		"@partition@", j.Computer.Partition,
		"@expid@", j.ExpID,
	)
	return r.Replace(s)
}

// payload is the backgrounded execution line for non-compute phases.
func (j Job) payload() string {
	if len(j.Commands) == 0 {
		return ""
	}
	return "( " + strings.Join(j.Commands, " ; ") + " ) &"
}

// assemble writes the script sections in fixed order: interpreter,
// directives, environment, cd, payload, pid capture, observe, wait.
func assemble(j Job, prefix string, directives []string, launch string) string {
	var sb strings.Builder

	sb.WriteString("#!/bin/bash\n")
	for _, d := range directives {
		sb.WriteString(prefix + " " + j.substitute(d) + "\n")
	}
	sb.WriteString("\n")

	if len(j.Environment) > 0 {
		for _, line := range j.Environment {
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("cd %s\n", j.WorkDir))
	sb.WriteString(launch + "\n")
	sb.WriteString("process=$!\n")
	if j.Observe != "" {
		sb.WriteString(j.Observe + "\n")
	}
	sb.WriteString("wait\n")

	return sb.String()
}
