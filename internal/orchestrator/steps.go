package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/constants"
	"github.com/rescale/simchain/internal/history"
	"github.com/rescale/simchain/internal/recipe"
	"github.com/rescale/simchain/internal/runwindow"
	"github.com/rescale/simchain/internal/staging"
	"github.com/rescale/simchain/internal/validation"
)

// Step names.
const (
	StepInitWindow      = "init_window"
	StepPrepareDirs     = "prepare_dirs"
	StepCouplerConfig   = "coupler_config"
	StepAssemblePlan    = "assemble_plan"
	StepArchiveInit     = "archive_init"
	StepStageExpToRun   = "stage_exp_to_run"
	StepNamelists       = "namelists"
	StepStageRunToWork  = "stage_run_to_work"
	StepReportStaging   = "report_staging"
	StepExpandOutputs   = "expand_outputs"
	StepStageWorkToRun  = "stage_work_to_run"
	StepReconcile       = "reconcile"
	StepScanUnknown     = "scan_unknown"
	StepMirror          = "mirror"
	StepMonitor         = "monitor"
	StepInspect         = "inspect"
	StepViz             = "viz"
	StepSubmitSelf      = "submit_self"
	observeRecipe       = "observe"
	defaultCouplerModel = "oasis3mct"
)

// Registry returns the built-in steps.
func Registry() *recipe.Registry[*RunContext] {
	r := recipe.NewRegistry[*RunContext]()
	r.MustRegister(StepInitWindow, initWindow)
	r.MustRegister(StepPrepareDirs, prepareDirs)
	r.MustRegister(StepCouplerConfig, couplerConfig)
	r.MustRegister(StepAssemblePlan, assemblePlan)
	r.MustRegister(StepArchiveInit, stageStep(StepArchiveInit, staging.TierInit, staging.TierExperiment, (*staging.Plan).InitEntries))
	r.MustRegister(StepStageExpToRun, stageStep(StepStageExpToRun, staging.TierExperiment, staging.TierRun, (*staging.Plan).Inputs))
	r.MustRegister(StepNamelists, namelists)
	r.MustRegister(StepStageRunToWork, stageStep(StepStageRunToWork, staging.TierRun, staging.TierWork, (*staging.Plan).Inputs))
	r.MustRegister(StepReportStaging, reportStaging)
	r.MustRegister(StepExpandOutputs, expandOutputs)
	r.MustRegister(StepStageWorkToRun, stageStep(StepStageWorkToRun, staging.TierWork, staging.TierRun, (*staging.Plan).Outputs))
	r.MustRegister(StepReconcile, reconcile)
	r.MustRegister(StepScanUnknown, scanUnknown)
	r.MustRegister(StepMirror, mirror)
	r.MustRegister(StepMonitor, monitorStep)
	r.MustRegister(StepInspect, inspect)
	r.MustRegister(StepViz, viz)
	r.MustRegister(StepSubmitSelf, submitSelf)
	return r
}

// DefaultBook is the recipe of every phase simchain runs itself.
func DefaultBook() recipe.Book {
	return recipe.Book{
		"prepcompute": {
			StepInitWindow, StepPrepareDirs, StepCouplerConfig, StepAssemblePlan,
			StepArchiveInit, StepStageExpToRun, StepNamelists, StepStageRunToWork,
			StepReportStaging,
		},
		"tidy": {
			StepAssemblePlan, StepExpandOutputs, StepStageWorkToRun, StepReconcile,
			StepScanUnknown, StepMirror, StepReportStaging,
		},
		observeRecipe: {StepMonitor},
		"inspect":     {StepInspect},
		"viz":         {StepViz},
	}
}

func initWindow(_ context.Context, rc *RunContext) (*RunContext, error) {
	w := rc.Window
	rc.Logger.Info().
		Str("current", w.CurrentDate.String()).
		Str("next", w.NextDate.String()).
		Str("final", w.FinalDate.String()).
		Str("calendar", w.Calendar.String()).
		Msg("Run window")
	if !w.NeedsFirstWrite || rc.Invocation.Check {
		return rc, nil
	}
	if err := runwindow.Persist(w, rc.Layout.DateFile()); err != nil {
		return rc, err
	}
	rc.Window.NeedsFirstWrite = false
	return rc, nil
}

func prepareDirs(_ context.Context, rc *RunContext) (*RunContext, error) {
	stamp := rc.Window.Stamp()
	dirs := []string{
		rc.Layout.ScriptsDir(),
		rc.Layout.LogDir(),
		rc.Layout.RunDir(stamp),
		rc.Layout.WorkDir(stamp),
	}
	if rc.Invocation.Check {
		dirs = dirs[:1]
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, constants.DirPerm); err != nil {
			return rc, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return rc, nil
}

// couplerConfig runs the coupler generator and registers its output as
// a couple-category input of the coupler model.
func couplerConfig(ctx context.Context, rc *RunContext) (*RunContext, error) {
	sec := rc.Tree.Section("general").Map("coupler")
	output := sec.String("output", "")
	if output == "" {
		return rc, nil
	}
	if !filepath.IsAbs(output) {
		output = filepath.Join(rc.Layout.ExpDir, output)
	}

	if cmd := sec.String("generate_command", ""); cmd != "" {
		if rc.Invocation.Check {
			fmt.Fprintf(rc.Out, "would run: %s\n", cmd)
		} else {
			if _, err := rc.Runner.Run(ctx, rc.Layout.ExpDir, cmd); err != nil {
				return rc, fmt.Errorf("coupler generation failed: %w", err)
			}
			rc.Logger.Info().Str("output", output).Msg("Coupler configuration generated")
		}
	}

	model := sec.String("model", defaultCouplerModel)
	if !contains(rc.Tree.Models(), model) {
		models := rc.Tree.Models()
		if len(models) == 0 {
			return rc, config.NewConfigError("general.models", "is empty")
		}
		model = models[0]
	}
	category := sec.String("category", "couple")
	modelSec := rc.Tree.EnsureSection(model)
	files := modelSec.Map("files")
	if len(files) == 0 {
		files = config.Section{}
		modelSec.Set("files", map[string]interface{}(files))
	}
	cat := files.Map(category)
	if len(cat) == 0 {
		cat = config.Section{}
		files.Set(category, map[string]interface{}(cat))
	}
	cat.Set("coupler", map[string]interface{}{"source": output})
	return rc, nil
}

func assemblePlan(_ context.Context, rc *RunContext) (*RunContext, error) {
	plan, err := staging.Assemble(staging.Params{
		Tree:     rc.Tree,
		Layout:   rc.Layout,
		Window:   rc.Window,
		Policies: rc.Policies,
	})
	if err != nil {
		return rc, err
	}
	rc.Plan = plan
	ev := rc.Logger.Info().Int("entries", len(plan.Entries)).Str("stamp", plan.Stamp)
	for cat, n := range plan.Counts() {
		ev = ev.Int(cat, n)
	}
	ev.Msg("Staging plan assembled")
	return rc, nil
}

func expandOutputs(_ context.Context, rc *RunContext) (*RunContext, error) {
	if rc.Plan == nil {
		return rc, fmt.Errorf("%s needs %s first", StepExpandOutputs, StepAssemblePlan)
	}
	plan, err := rc.Plan.ExpandOutputs()
	if err != nil {
		return rc, err
	}
	rc.Plan = plan
	return rc, nil
}

// stageStep moves the entries selected by pick between two tiers.
func stageStep(name string, from, to staging.Tier, pick func(*staging.Plan) []staging.StagedFile) recipe.Step[*RunContext] {
	return func(_ context.Context, rc *RunContext) (*RunContext, error) {
		if rc.Plan == nil {
			return rc, fmt.Errorf("%s needs %s first", name, StepAssemblePlan)
		}
		entries := pick(rc.Plan)
		if rc.Invocation.Check {
			fmt.Fprintf(rc.Out, "%s: %d entries %s -> %s\n", name, len(entries), from, to)
			for _, e := range entries {
				fmt.Fprintf(rc.Out, "  %-8s %s -> %s\n", e.Movement(mustDirection(from, to)), e.Path(from), e.Path(to))
			}
			return rc, nil
		}
		report, err := staging.Execute(entries, from, to, rc.stagingOptions())
		if err != nil {
			return rc, err
		}
		rc.Report.Merge(report)
		return rc, nil
	}
}

func mustDirection(from, to staging.Tier) staging.Direction {
	d, err := staging.DirectionBetween(from, to)
	if err != nil {
		panic(err)
	}
	return d
}

// namelists runs each model's namelist_command in its run-tier config
// directory, after inputs reached the run tier.
func namelists(ctx context.Context, rc *RunContext) (*RunContext, error) {
	stamp := rc.Window.Stamp()
	for _, model := range rc.Tree.Models() {
		cmd := rc.Tree.Section(model).String("namelist_command", "")
		if cmd == "" {
			continue
		}
		cmd = strings.NewReplacer(
			"@MODEL@", model,
			"@CURRENT_DATE@", rc.Window.CurrentDate.Stamp(),
			"@RUN_NUMBER@", fmt.Sprint(rc.Window.RunNumber),
			"@EXP_DIR@", rc.Layout.ExpDir,
		).Replace(cmd)
		dir := rc.Layout.IntermediateDir(stamp, "config", model)
		if rc.Invocation.Check {
			fmt.Fprintf(rc.Out, "would run in %s: %s\n", dir, cmd)
			continue
		}
		if err := os.MkdirAll(dir, constants.DirPerm); err != nil {
			return rc, err
		}
		if _, err := rc.Runner.Run(ctx, dir, cmd); err != nil {
			return rc, fmt.Errorf("namelist command for %s failed: %w", model, err)
		}
		rc.Logger.Info().Str("model", model).Msg("Namelists patched")
	}
	return rc, nil
}

func reconcile(_ context.Context, rc *RunContext) (*RunContext, error) {
	if rc.Plan == nil {
		return rc, fmt.Errorf("%s needs %s first", StepReconcile, StepAssemblePlan)
	}
	if rc.Invocation.Check {
		fmt.Fprintf(rc.Out, "%s: %d outputs, previous stamp %s\n", StepReconcile, len(rc.Plan.Outputs()), rc.Window.PrevStamp())
		return rc, nil
	}
	rc.Report.Merge(staging.Reconcile(rc.Plan.Outputs(), rc.Window.PrevStamp(), rc.stagingOptions()))
	return rc, nil
}

func scanUnknown(_ context.Context, rc *RunContext) (*RunContext, error) {
	if rc.Plan == nil {
		return rc, fmt.Errorf("%s needs %s first", StepScanUnknown, StepAssemblePlan)
	}
	rels, err := staging.ScanUnknown(rc.Plan)
	if err != nil {
		return rc, fmt.Errorf("unknown file scan failed: %w", err)
	}
	if len(rels) == 0 {
		return rc, nil
	}
	unknownDir := rc.Layout.UnknownDir(rc.Plan.Stamp)
	for _, rel := range rels {
		if err := validation.ValidatePathInDirectory(filepath.Join(unknownDir, rel), unknownDir); err != nil {
			return rc, fmt.Errorf("unknown file %s escapes the archive: %w", rel, err)
		}
	}
	rc.Unknown = rels
	rc.Report.Unknown = append(rc.Report.Unknown, rels...)
	rc.Logger.Warn().Int("count", len(rels)).Str("archive", unknownDir).Msg("Unknown files in work directory")
	if rc.Invocation.Check {
		for _, rel := range rels {
			fmt.Fprintf(rc.Out, "unknown: %s\n", rel)
		}
		return rc, nil
	}

	entries := staging.UnknownEntries(rels, rc.Plan.WorkDir, unknownDir, rc.Policies)
	report, err := staging.Execute(entries, staging.TierWork, staging.TierRun, rc.stagingOptions())
	if err != nil {
		return rc, err
	}
	report.Unknown = nil
	rc.Report.Merge(report)
	return rc, nil
}

// mirror uploads the archived outputs and the unknown-files tier of this
// run. Upload failures are logged and recorded; they never fail tidy.
func mirror(ctx context.Context, rc *RunContext) (*RunContext, error) {
	if rc.Mirror == nil || rc.Plan == nil || rc.Invocation.Check {
		return rc, nil
	}
	var files []string
	for _, e := range rc.Plan.Outputs() {
		if info, err := os.Stat(e.SourcePath); err == nil && !info.IsDir() {
			files = append(files, e.SourcePath)
		}
	}
	if len(rc.Unknown) > 0 {
		files = append(files, rc.Layout.UnknownDir(rc.Plan.Stamp))
	}

	uploaded, err := rc.Mirror.Upload(ctx, rc.Layout.ExpID, rc.Layout.ExpDir, files)
	rc.Mirrored = append(rc.Mirrored, uploaded...)
	if rc.History != nil {
		for _, u := range uploaded {
			if _, herr := rc.History.RecordUpload(ctx, history.Upload{
				RunNumber: rc.Window.RunNumber, Backend: rc.Mirror.Backend(), Key: u.Key, Size: u.Size,
			}); herr != nil {
				rc.Logger.Warn().Err(herr).Msg("Failed to record upload")
			}
		}
	}
	if err != nil {
		rc.Report.Failed = append(rc.Report.Failed, staging.Problem{
			Model: "general", Category: "mirror", Path: rc.Layout.ExpDir, Reason: err.Error(),
		})
	}
	return rc, nil
}

func reportStaging(ctx context.Context, rc *RunContext) (*RunContext, error) {
	stage := rc.Invocation.Phase
	rc.Report.Log(rc.Logger, stage)
	if rc.Invocation.Check && rc.Plan != nil {
		fmt.Fprintf(rc.Out, "plan %s: %d entries\n", rc.Plan.Stamp, len(rc.Plan.Entries))
	}
	if rc.History != nil {
		_, err := rc.History.RecordStaging(ctx, history.StagingSummary{
			Phase:     rc.Invocation.Phase,
			RunNumber: rc.Window.RunNumber,
			Stage:     stage,
			Summary:   rc.Report.Summary(),
			Missing:   len(rc.Report.Missing),
			Conflicts: len(rc.Report.Conflicts),
			Failed:    len(rc.Report.Failed),
			Bytes:     rc.Report.Bytes,
		})
		if err != nil {
			rc.Logger.Warn().Err(err).Msg("Failed to record staging report")
		}
	}
	return rc, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
