// Package staging moves model files between the experiment archive, the
// per-run staging directory and the work directory of a run.
package staging

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Tier is one of the physical locations a file can live in.
type Tier int

const (
	// TierInit is the file's original location outside the experiment.
	TierInit Tier = iota
	// TierExperiment is the persistent experiment archive.
	TierExperiment
	// TierRun is the per-run intermediate directory.
	TierRun
	// TierWork is the execution work directory.
	TierWork
)

func (t Tier) String() string {
	switch t {
	case TierInit:
		return "init"
	case TierExperiment:
		return "exp"
	case TierRun:
		return "run"
	case TierWork:
		return "work"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Direction is a movement between two adjacent tiers.
type Direction string

const (
	InitToExp Direction = "init_to_exp"
	ExpToRun  Direction = "exp_to_run"
	RunToWork Direction = "run_to_work"
	WorkToRun Direction = "work_to_run"
	RunToExp  Direction = "run_to_exp"
)

// AllDirections lists every direction in staging order.
var AllDirections = []Direction{InitToExp, ExpToRun, RunToWork, WorkToRun, RunToExp}

// AllDirectionsKey applies a movement to every direction.
const AllDirectionsKey = "all_directions"

// ParseDirection validates a direction key.
func ParseDirection(s string) (Direction, bool) {
	for _, d := range AllDirections {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// DirectionBetween maps a tier pair to its direction.
func DirectionBetween(from, to Tier) (Direction, error) {
	switch {
	case from == TierInit && to == TierExperiment:
		return InitToExp, nil
	case from == TierExperiment && to == TierRun:
		return ExpToRun, nil
	case from == TierRun && to == TierWork:
		return RunToWork, nil
	case from == TierWork && to == TierRun:
		return WorkToRun, nil
	case from == TierRun && to == TierExperiment:
		return RunToExp, nil
	}
	return "", fmt.Errorf("no staging direction from %s to %s", from, to)
}

// Movement is the action applied to a file in one direction.
type Movement string

const (
	Copy Movement = "copy"
	Link Movement = "link"
	Move Movement = "move"
)

// ParseMovement validates a movement value.
func ParseMovement(s string) (Movement, bool) {
	switch Movement(s) {
	case Copy, Link, Move:
		return Movement(s), true
	}
	return "", false
}

// StagedFile is one file's required presence across the tiers. It is
// built by Assemble and only read afterwards.
type StagedFile struct {
	Model    string `yaml:"model"`
	Category string `yaml:"category"`
	Key      string `yaml:"key"`
	Output   bool   `yaml:"output,omitempty"`

	// SourcePath is the persistent-tier path.
	SourcePath string `yaml:"source"`
	// InitPath is set for categories archived into the experiment at init.
	InitPath string `yaml:"init,omitempty"`

	IntermediateDir  string `yaml:"intermediate_dir"`
	IntermediateName string `yaml:"intermediate_name"`
	TargetName       string `yaml:"target_name"`
	Subfolder        string `yaml:"subfolder,omitempty"`

	// Absolute paths computed in the last assembly step.
	IntermediatePath string `yaml:"intermediate_path"`
	TargetPath       string `yaml:"target_path"`

	Policy map[Direction]Movement `yaml:"policy"`
}

// Path returns the file's location in tier, or "" if it has none there.
func (f StagedFile) Path(t Tier) string {
	switch t {
	case TierInit:
		return f.InitPath
	case TierExperiment:
		return f.SourcePath
	case TierRun:
		return f.IntermediatePath
	case TierWork:
		return f.TargetPath
	}
	return ""
}

// Movement returns the resolved movement for d, defaulting to copy.
func (f StagedFile) Movement(d Direction) Movement {
	if m, ok := f.Policy[d]; ok {
		return m
	}
	return Copy
}

func (f StagedFile) id() string {
	return f.Model + "\x00" + f.Category + "\x00" + f.Key + "\x00" + f.IntermediatePath + "\x00" + f.TargetPath
}

// Plan is the staging plan of one run.
type Plan struct {
	Stamp   string       `yaml:"stamp"`
	RunDir  string       `yaml:"run_dir"`
	WorkDir string       `yaml:"work_dir"`
	Entries []StagedFile `yaml:"entries"`
}

// Inputs returns the entries flowing towards the work directory.
func (p *Plan) Inputs() []StagedFile {
	return p.filter(false)
}

// Outputs returns the entries flowing back to the archive.
func (p *Plan) Outputs() []StagedFile {
	return p.filter(true)
}

// InitEntries returns inputs archived into the experiment first.
func (p *Plan) InitEntries() []StagedFile {
	var out []StagedFile
	for _, e := range p.Entries {
		if !e.Output && e.InitPath != "" {
			out = append(out, e)
		}
	}
	return out
}

func (p *Plan) filter(output bool) []StagedFile {
	var out []StagedFile
	for _, e := range p.Entries {
		if e.Output == output {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns the number of entries per model/category.
func (p *Plan) Counts() map[string]int {
	counts := make(map[string]int)
	for _, e := range p.Entries {
		counts[e.Model+"/"+e.Category]++
	}
	return counts
}

// normalize sorts entries and drops exact duplicates.
func (p *Plan) normalize() {
	sort.SliceStable(p.Entries, func(i, j int) bool {
		return p.Entries[i].id() < p.Entries[j].id()
	})
	out := p.Entries[:0]
	var last string
	for i, e := range p.Entries {
		id := e.id()
		if i > 0 && id == last {
			continue
		}
		out = append(out, e)
		last = id
	}
	p.Entries = out
}

// isKnown reports whether path is a plan target or lies inside one.
func (p *Plan) isKnown(path string) bool {
	for _, e := range p.Entries {
		if e.TargetPath == "" {
			continue
		}
		if path == e.TargetPath {
			return true
		}
		if hasGlob(e.TargetPath) {
			if ok, _ := filepath.Match(e.TargetPath, path); ok {
				return true
			}
			continue
		}
		rel, err := filepath.Rel(e.TargetPath, path)
		if err == nil && rel != "." && !startsWithParent(rel) {
			return true
		}
	}
	return false
}

func startsWithParent(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
