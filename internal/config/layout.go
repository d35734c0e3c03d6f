package config

import (
	"path/filepath"

	"github.com/rescale/simchain/internal/constants"
	"github.com/rescale/simchain/internal/validation"
)

// Layout names every directory and bookkeeping file of one experiment.
type Layout struct {
	ExpID     string
	SetupName string
	ExpDir    string
}

// NewLayout derives the layout from general.base_dir, expid and setup_name.
func NewLayout(t *Tree) (Layout, error) {
	g := t.Section("general")
	expid := g.String("expid", "")
	if expid == "" {
		return Layout{}, NewConfigError("general.expid", "is required")
	}
	if err := validation.ValidateFilename(expid); err != nil {
		return Layout{}, WrapConfigError("general.expid", "not usable as a directory name", err)
	}
	base := g.String("base_dir", "")
	if base == "" {
		return Layout{}, NewConfigError("general.base_dir", "is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return Layout{}, WrapConfigError("general.base_dir", "cannot be made absolute", err)
	}
	return Layout{
		ExpID:     expid,
		SetupName: g.String("setup_name", expid),
		ExpDir:    filepath.Join(abs, expid),
	}, nil
}

func (l Layout) ScriptsDir() string { return filepath.Join(l.ExpDir, constants.ScriptsDir) }
func (l Layout) LogDir() string     { return filepath.Join(l.ExpDir, constants.LogDir) }

// DateFile is the persisted "<date> <run_number>" checkpoint.
func (l Layout) DateFile() string {
	return filepath.Join(l.ScriptsDir(), l.ExpID+"_"+l.SetupName+constants.DateFileSuffix)
}

// AuditLog is the append-only phase transition log.
func (l Layout) AuditLog() string {
	return filepath.Join(l.ScriptsDir(), l.ExpID+"_"+l.SetupName+constants.AuditLogSuffix)
}

// RunLog is the rotating simchain log.
func (l Layout) RunLog() string {
	return filepath.Join(l.LogDir(), l.ExpID+"_simchain.log")
}

// HistoryDB is the default run-history database.
func (l Layout) HistoryDB() string {
	return filepath.Join(l.ScriptsDir(), l.ExpID+"_history.db")
}

// RunDir is the per-run directory for a date stamp.
func (l Layout) RunDir(stamp string) string {
	return filepath.Join(l.ExpDir, constants.RunDirPrefix+stamp)
}

// WorkDir is the execution directory of a run.
func (l Layout) WorkDir(stamp string) string {
	return filepath.Join(l.RunDir(stamp), constants.WorkDir)
}

// PersistentDir is the experiment archive directory for a category and model.
func (l Layout) PersistentDir(category, model string) string {
	return filepath.Join(l.ExpDir, category, model)
}

// IntermediateDir is the per-run staging directory for a category and model.
func (l Layout) IntermediateDir(stamp, category, model string) string {
	return filepath.Join(l.RunDir(stamp), category, model)
}

// UnknownDir is the archive tier for files nobody declared.
func (l Layout) UnknownDir(stamp string) string {
	return filepath.Join(l.ExpDir, constants.UnknownDir, constants.RunDirPrefix+stamp)
}

// ScriptPath is the generated submission script for a phase and run.
func (l Layout) ScriptPath(phase, stamp string) string {
	return filepath.Join(l.ScriptsDir(), l.ExpID+"_"+phase+"_"+stamp+".run")
}

// Hostfile is the rank-range to executable mapping used by the launcher.
func (l Layout) Hostfile() string {
	return filepath.Join(l.ScriptsDir(), constants.HostfileName)
}

// MonitorStatus is the persisted monitor state for a phase.
func (l Layout) MonitorStatus(phase string) string {
	return filepath.Join(l.ScriptsDir(), "monitor_"+phase+".json")
}
