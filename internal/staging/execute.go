package staging

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/simchain/internal/constants"
	"github.com/rescale/simchain/internal/diskspace"
	"github.com/rescale/simchain/internal/logging"
	"github.com/rescale/simchain/internal/pathutil"
	"github.com/rescale/simchain/internal/progress"
)

// Options configure Execute and Reconcile.
type Options struct {
	Logger *logging.Logger
	// Progress receives the total byte count of all copies.
	Progress progress.Reporter
	// SafetyMargin multiplies the bytes a copy needs before the free
	// space check. Zero uses the default.
	SafetyMargin float64
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	if o.Progress == nil {
		o.Progress = progress.NewNoOpProgress()
	}
	if o.SafetyMargin <= 0 {
		o.SafetyMargin = constants.DiskSafetyMargin
	}
	return o
}

// action is one resolved movement of a single entry.
type action struct {
	entry    StagedFile
	src, dst string
	resolved string
	movement Movement
	size     int64
}

// Execute stages entries from one tier into the next using each entry's
// movement for that direction. Missing sources and failed operations are
// recorded in the report; the returned error is only for an invalid tier
// pair.
func Execute(entries []StagedFile, from, to Tier, opts Options) (*Report, error) {
	dir, err := DirectionBetween(from, to)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	report := &Report{}

	actions := resolveActions(entries, from, to, dir, report)
	run(actions, string(dir), opts, report)
	return report, nil
}

// resolveActions drops entries that need nothing done and resolves the rest.
func resolveActions(entries []StagedFile, from, to Tier, dir Direction, report *Report) []action {
	var actions []action
	for _, e := range entries {
		src, dst := e.Path(from), e.Path(to)
		if src == "" || dst == "" || src == dst {
			continue
		}
		if _, err := os.Lstat(src); err != nil {
			report.Missing = append(report.Missing, problem(e, src, ""))
			continue
		}
		m := e.Movement(dir)
		resolved := src
		if m != Move {
			r, err := pathutil.ResolveLink(src)
			if err != nil {
				report.Failed = append(report.Failed, problem(e, src, err.Error()))
				continue
			}
			if _, err := os.Stat(r); err != nil {
				report.Missing = append(report.Missing, problem(e, src, "dangling link to "+r))
				continue
			}
			resolved = r
		}
		same, err := identical(resolved, dst)
		if err != nil {
			report.Failed = append(report.Failed, problem(e, dst, err.Error()))
			continue
		}
		if same {
			report.Skipped++
			continue
		}
		a := action{entry: e, src: src, dst: dst, resolved: resolved, movement: m}
		if m == Copy {
			if a.size, err = diskspace.Usage(resolved); err != nil {
				report.Failed = append(report.Failed, problem(e, src, err.Error()))
				continue
			}
		}
		actions = append(actions, a)
	}
	return actions
}

func run(actions []action, stage string, opts Options, report *Report) {
	var total int64
	for _, a := range actions {
		total += a.size
	}
	if total > 0 {
		opts.Progress.Start(total, stage)
		defer opts.Progress.Finish()
	}
	counter := progress.NewCounter(opts.Progress, 0)

	for _, a := range actions {
		var err error
		switch a.movement {
		case Link:
			if err = linkPath(a.resolved, a.dst); err == nil {
				report.Linked++
			}
		case Move:
			if err = movePath(a.src, a.dst, counter); err == nil {
				report.Moved++
			}
		default:
			err = diskspace.CheckAvailableSpace(a.dst, a.size, opts.SafetyMargin)
			if err == nil {
				if err = copyPath(a.resolved, a.dst, counter); err == nil {
					report.Copied++
					report.Bytes += a.size
				}
			}
		}
		if err != nil {
			report.Failed = append(report.Failed, problem(a.entry, a.dst, err.Error()))
			ev := opts.Logger.Debug()
			if diskspace.IsInsufficientSpaceError(err) {
				ev = opts.Logger.Warn()
			}
			ev.Err(err).Str("stage", stage).Msgf("%s %s -> %s failed", a.movement, a.src, a.dst)
			continue
		}
		opts.Logger.Debug().Str("stage", stage).Msgf("%s %s -> %s", a.movement, a.src, a.dst)
	}
}

// Reconcile moves run-tier outputs into the archive. An archived copy
// that differs from the new one is first renamed with prevStamp inserted
// before its extension. When that stamped name is already taken the
// entry is left alone and reported as a conflict.
func Reconcile(entries []StagedFile, prevStamp string, opts Options) *Report {
	opts = opts.withDefaults()
	report := &Report{}

	var ready []StagedFile
	for _, e := range entries {
		if !e.Output {
			continue
		}
		src, dst := e.Path(TierRun), e.Path(TierExperiment)
		if _, err := os.Lstat(src); err != nil {
			report.Missing = append(report.Missing, problem(e, src, ""))
			continue
		}
		if _, err := os.Lstat(dst); err != nil {
			ready = append(ready, e)
			continue
		}
		resolved, err := pathutil.ResolveLink(src)
		if err != nil {
			report.Failed = append(report.Failed, problem(e, src, err.Error()))
			continue
		}
		same, err := identical(resolved, dst)
		if err != nil {
			report.Failed = append(report.Failed, problem(e, dst, err.Error()))
			continue
		}
		if same {
			report.Skipped++
			continue
		}

		stamped := StampedName(dst, prevStamp)
		if _, err := os.Lstat(stamped); err == nil {
			report.Conflicts = append(report.Conflicts, problem(e, dst, filepath.Base(stamped)+" already exists"))
			continue
		}
		if err := os.Rename(dst, stamped); err != nil {
			report.Failed = append(report.Failed, problem(e, dst, err.Error()))
			continue
		}
		report.Renamed++
		opts.Logger.Debug().Str("stage", string(RunToExp)).Msgf("archived %s as %s", dst, filepath.Base(stamped))
		ready = append(ready, e)
	}

	moved, _ := Execute(ready, TierRun, TierExperiment, opts)
	report.Merge(moved)
	return report
}

// StampedName inserts "_<stamp>" before the extension of path.
func StampedName(path, stamp string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	return filepath.Join(dir, stem+"_"+stamp+ext)
}

func problem(e StagedFile, path, reason string) Problem {
	return Problem{Model: e.Model, Category: e.Category, Path: path, Reason: reason}
}
