// Package workflow holds the phase graph of an experiment and decides
// what to submit after a phase completes.
package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/constants"
)

// Mode is how a phase is launched.
type Mode string

const (
	ModeBatch     Mode = "batch"
	ModeShell     Mode = "shell"
	ModeInProcess Mode = "in-process"
)

// ObservePrefix names the monitoring phase that runs next to a batch job.
const ObservePrefix = "observe_"

// Phase is one node of the graph.
type Phase struct {
	Name          string
	Cluster       string
	Successors    []string
	CalendarOwner bool
	Mode          Mode
	// Script is the command run for ModeShell.
	Script string
}

// Graph is the static phase graph of one experiment.
type Graph struct {
	Phases map[string]*Phase
	Owner  string
}

// DefaultGraph is used when the configuration declares no workflow.
// post is added after tidy when post_commands exist.
func DefaultGraph(withPost bool) map[string]interface{} {
	tidy := []interface{}{"prepcompute"}
	phases := map[string]interface{}{
		"prepcompute": map[string]interface{}{"successors": []interface{}{"compute"}},
		"compute":     map[string]interface{}{"cluster": "compute", "successors": []interface{}{"tidy"}},
	}
	clusters := map[string]interface{}{
		"compute": map[string]interface{}{"submit_to_batch_system": true},
	}
	if withPost {
		tidy = append(tidy, "post")
		phases["post"] = map[string]interface{}{"cluster": "post", "successors": []interface{}{}}
		clusters["post"] = map[string]interface{}{"submit_to_batch_system": true}
	}
	phases["tidy"] = map[string]interface{}{"successors": tidy}
	return map[string]interface{}{
		"first_task_in_queue": "prepcompute",
		"phases":              phases,
		"clusters":            clusters,
	}
}

// GraphFromTree loads and validates general.workflow.
func GraphFromTree(tree *config.Tree) (*Graph, error) {
	general := tree.Section("general")
	wf := general.Map("workflow")
	if len(wf) == 0 {
		wf = config.Section(DefaultGraph(len(general.Strings("post_commands")) > 0))
	}
	return buildGraph(wf)
}

func buildGraph(wf config.Section) (*Graph, error) {
	phases := wf.Map("phases")
	if len(phases) == 0 {
		return nil, config.NewConfigError("general.workflow.phases", "no phases declared")
	}
	clusters := wf.Map("clusters")

	g := &Graph{Phases: map[string]*Phase{}}
	var owners []string
	first := wf.String("first_task_in_queue", "")

	for _, name := range phases.Keys() {
		sec := phases.Map(name)
		key := "general.workflow.phases." + name
		if strings.HasPrefix(name, ObservePrefix) {
			return nil, config.NewConfigError(key, "%s phases are implicit", ObservePrefix)
		}
		p := &Phase{
			Name:       name,
			Cluster:    sec.String("cluster", name),
			Successors: sec.Strings("successors"),
		}
		p.CalendarOwner = sec.Bool("calendar_owner", false) || name == first
		if p.CalendarOwner {
			owners = append(owners, name)
		}
		mode, script, err := resolveMode(p, clusters.Map(p.Cluster))
		if err != nil {
			return nil, err
		}
		p.Mode, p.Script = mode, script
		g.Phases[name] = p
	}

	if first != "" && g.Phases[first] == nil {
		return nil, config.NewConfigError("general.workflow.first_task_in_queue", "unknown phase %q", first)
	}
	switch len(owners) {
	case 0:
		return nil, config.NewConfigError("general.workflow.first_task_in_queue", "no calendar-owning phase declared")
	case 1:
		g.Owner = owners[0]
	default:
		sort.Strings(owners)
		return nil, config.NewConfigError("general.workflow", "more than one calendar owner: %s", strings.Join(owners, ", "))
	}

	for _, p := range g.Phases {
		for _, s := range p.Successors {
			if g.Phases[s] == nil {
				return nil, config.NewConfigError("general.workflow.phases."+p.Name+".successors", "unknown phase %q", s)
			}
		}
	}
	return g, nil
}

// resolveMode picks batch when the cluster submits to the scheduler,
// shell when it names a script, and in-process only for the phases
// allowed to run inside simchain itself.
func resolveMode(p *Phase, cluster config.Section) (Mode, string, error) {
	if cluster.Bool("submit_to_batch_system", false) {
		return ModeBatch, "", nil
	}
	if script := cluster.String("script", ""); script != "" {
		return ModeShell, script, nil
	}
	if constants.IsInProcessPhase(p.Name) {
		return ModeInProcess, "", nil
	}
	return "", "", config.NewConfigError("general.workflow.clusters."+p.Cluster,
		"unknown submission strategy for phase %q (in-process allowed only for %s)", p.Name, strings.Join(constants.InProcessPhases, ", "))
}

// Phase looks up a phase. observe_<phase> resolves to <phase>.
func (g *Graph) Phase(name string) (*Phase, error) {
	if p, ok := g.Phases[strings.TrimPrefix(name, ObservePrefix)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown phase %q", name)
}

// Names returns the phase names sorted.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.Phases))
	for n := range g.Phases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
