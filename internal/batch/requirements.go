package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/simchain/internal/config"
)

// Rank is a contiguous task range bound to one executable.
type Rank struct {
	Model      string
	Executable string
	Start      int
	End        int
}

// Tasks is the size of the range.
func (r Rank) Tasks() int { return r.End - r.Start + 1 }

// Requirements is the resource request of one phase.
type Requirements struct {
	Tasks int
	Nodes int
	Ranks []Rank
}

// IsComputePhase reports whether phase launches the coupled models.
func IsComputePhase(phase string) bool {
	return phase == "compute"
}

// ModelTasks returns a model's task count: nproc, or nproca*nprocb plus
// nprocar*nprocbr when both of the latter are concrete integers.
// A model declaring none of these contributes nothing.
func ModelTasks(model string, sec config.Section) (int, error) {
	intKey := func(key string) (int, error) {
		n, err := sec.Int(key, 0)
		if err != nil {
			return 0, config.WrapConfigError(model+"."+key, "must be an integer", err)
		}
		if n < 0 {
			return 0, config.NewConfigError(model+"."+key, "must not be negative")
		}
		return n, nil
	}

	if sec.Has("nproc") {
		return intKey("nproc")
	}
	if !sec.Has("nproca") && !sec.Has("nprocb") {
		return 0, nil
	}
	a, err := intKey("nproca")
	if err != nil {
		return 0, err
	}
	b, err := intKey("nprocb")
	if err != nil {
		return 0, err
	}
	n := a * b
	if sec.IsInt("nprocar") && sec.IsInt("nprocbr") {
		ar, _ := sec.Int("nprocar", 0)
		br, _ := sec.Int("nprocbr", 0)
		if ar > 0 && br > 0 {
			n += ar * br
		}
	}
	return n, nil
}

// ComputeRequirements sums the tasks of every active model for the
// compute phase; every other phase asks for a single task. A
// heterogeneous job asks for the nodes each group needs on its own.
func ComputeRequirements(tree *config.Tree, phase string) (Requirements, error) {
	cpn, err := tree.Section("computer").Int("cores_per_node", 0)
	if err != nil {
		return Requirements{}, config.WrapConfigError("computer.cores_per_node", "must be an integer", err)
	}

	if !IsComputePhase(phase) {
		return Requirements{Tasks: 1, Nodes: 1}, nil
	}

	var req Requirements
	for _, model := range tree.Models() {
		sec := tree.Section(model)
		n, err := ModelTasks(model, sec)
		if err != nil {
			return Requirements{}, err
		}
		if n == 0 {
			continue
		}
		req.Ranks = append(req.Ranks, Rank{
			Model:      model,
			Executable: sec.String("executable", model),
			Start:      req.Tasks,
			End:        req.Tasks + n - 1,
		})
		req.Tasks += n
	}
	if req.Tasks == 0 {
		return Requirements{}, config.NewConfigError("general.models", "no active model declares a task count")
	}
	req.Nodes = nodesFor(req.Tasks, cpn)

	c, err := ComputerFromTree(tree)
	if err != nil {
		return Requirements{}, err
	}
	if c.Heterogeneous {
		if req.Nodes, err = GroupNodes(req, c.Groups, cpn); err != nil {
			return Requirements{}, err
		}
	}
	return req, nil
}

func nodesFor(tasks, coresPerNode int) int {
	if coresPerNode <= 0 {
		return 1
	}
	return (tasks + coresPerNode - 1) / coresPerNode
}

// HostfileContent renders one "<start>-<end> <executable>" line per range.
func HostfileContent(ranks []Rank) string {
	var sb strings.Builder
	for _, r := range ranks {
		sb.WriteString(fmt.Sprintf("%d-%d %s\n", r.Start, r.End, r.Executable))
	}
	return sb.String()
}

// WriteHostfile atomically writes the rank mapping to path.
func WriteHostfile(path string, ranks []Rank) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create hostfile directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(HostfileContent(ranks)), 0644); err != nil {
		return fmt.Errorf("failed to write hostfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace hostfile: %w", err)
	}
	return nil
}
