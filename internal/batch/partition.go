package batch

import (
	"fmt"
	"strings"

	"github.com/rescale/simchain/internal/config"
)

// Group is a set of models launched by one sub-command of a
// heterogeneous job.
type Group struct {
	Name   string
	Models []string
}

// Assignment is the share of the allocation given to one group.
type Assignment struct {
	Group     string
	Tasks     int
	Nodes     int
	NodeNames []string
	Ranks     []Rank
}

// Partition splits totalNodes (or the explicit node list) between groups
// proportionally to their task counts, rounding down, in declaration
// order. Every group gets at least enough nodes to hold its own tasks at
// coresPerNode; leftover nodes go to the last group. Ranks are renumbered
// from zero within each group.
func Partition(req Requirements, groups []Group, coresPerNode, totalNodes int, nodeNames []string) ([]Assignment, error) {
	if len(nodeNames) > 0 {
		totalNodes = len(nodeNames)
	}
	out, err := assign(req, groups)
	if err != nil || len(out) == 0 {
		return nil, err
	}

	used := 0
	for i := range out {
		n := totalNodes * out[i].Tasks / req.Tasks
		if least := nodesFor(out[i].Tasks, coresPerNode); n < least {
			n = least
		}
		out[i].Nodes = n
		used += n
	}
	if used > totalNodes {
		return nil, fmt.Errorf("allocation of %d nodes cannot hold %d groups (%d needed)", totalNodes, len(out), used)
	}
	out[len(out)-1].Nodes += totalNodes - used

	if len(nodeNames) > 0 {
		next := 0
		for i := range out {
			out[i].NodeNames = nodeNames[next : next+out[i].Nodes]
			next += out[i].Nodes
		}
	}
	return out, nil
}

// GroupNodes is the node count of a heterogeneous job: the sum over
// groups of the nodes each needs for its own tasks.
func GroupNodes(req Requirements, groups []Group, coresPerNode int) (int, error) {
	out, err := assign(req, groups)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range out {
		n += nodesFor(a.Tasks, coresPerNode)
	}
	return n, nil
}

// assign collects the ranks of each group. Groups without tasks are
// dropped; a model in two groups or in none is a configuration error.
func assign(req Requirements, groups []Group) ([]Assignment, error) {
	if len(groups) == 0 {
		for _, r := range req.Ranks {
			groups = append(groups, Group{Name: r.Model, Models: []string{r.Model}})
		}
	}

	byModel := make(map[string]Rank, len(req.Ranks))
	for _, r := range req.Ranks {
		byModel[r.Model] = r
	}
	grouped := make(map[string]bool)

	var out []Assignment
	for _, g := range groups {
		a := Assignment{Group: g.Name}
		for _, m := range g.Models {
			r, ok := byModel[m]
			if !ok {
				continue
			}
			if grouped[m] {
				return nil, config.NewConfigError("computer.groups", "model %s is listed in more than one group", m)
			}
			grouped[m] = true
			a.Ranks = append(a.Ranks, Rank{Model: r.Model, Executable: r.Executable, Start: a.Tasks, End: a.Tasks + r.Tasks() - 1})
			a.Tasks += r.Tasks()
		}
		if a.Tasks > 0 {
			out = append(out, a)
		}
	}
	for _, r := range req.Ranks {
		if !grouped[r.Model] {
			return nil, config.NewConfigError("computer.groups", "model %s has tasks but belongs to no group", r.Model)
		}
	}
	return out, nil
}

// joinGroups renders per-group sub-commands with the scheduler's packing
// separator between them.
func joinGroups(parts []string, sep string) string {
	return strings.Join(parts, sep)
}
