package staging

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/runwindow"
	"github.com/rescale/simchain/internal/validation"
)

// Params is everything Assemble reads.
type Params struct {
	Tree   *config.Tree
	Layout config.Layout
	Window runwindow.Window
	// Policies is loaded from Tree when nil.
	Policies *Policies
}

// decl is one file declaration after name filling, before expansion.
type decl struct {
	model, category, key string
	output               bool
	source               string
	name                 string
	target               string
	subfolder            string
	explicitName         bool
}

// Assemble builds the staging plan of the current run. The same
// configuration and window always produce the same plan.
func Assemble(p Params) (*Plan, error) {
	policies := p.Policies
	if policies == nil {
		var err error
		if policies, err = LoadPolicies(p.Tree); err != nil {
			return nil, err
		}
	}

	stamp := p.Window.Stamp()
	plan := &Plan{
		Stamp:   stamp,
		RunDir:  p.Layout.RunDir(stamp),
		WorkDir: p.Layout.WorkDir(stamp),
	}

	general := p.Tree.Section("general")
	selected := general.Strings("selected_categories")
	initCats := DefaultInitCategories
	if general.Has("init_to_exp") {
		initCats = general.Strings("init_to_exp")
	}

	for _, model := range p.Tree.Models() {
		sec := p.Tree.Section(model)

		// 1: names
		decls, err := fillNames(p, model, sec)
		if err != nil {
			return nil, err
		}

		// 2: category selection
		if len(selected) > 0 {
			kept := decls[:0]
			for _, d := range decls {
				if contains(selected, d.category) {
					kept = append(kept, d)
				}
			}
			decls = kept
		}

		// 3: wildcard sources
		decls, err = expandGlobs(decls)
		if err != nil {
			return nil, err
		}

		// 4: years
		decls, err = expandYears(p, sec, decls)
		if err != nil {
			return nil, err
		}

		// 5: absolute paths
		for _, d := range decls {
			plan.Entries = append(plan.Entries, p.place(d, stamp, initCats, policies))
		}
	}

	plan.normalize()
	return plan, nil
}

func fillNames(p Params, model string, sec config.Section) ([]decl, error) {
	files := sec.Map("files")
	var out []decl
	for _, category := range files.Keys() {
		output := IsOutput(category)
		if !output && !IsInput(category) {
			return nil, config.NewConfigError(model+".files."+category, "unknown file category")
		}
		entries := files.Map(category)
		for _, key := range entries.Keys() {
			f := entries.Map(key)
			cfgKey := fmt.Sprintf("%s.files.%s.%s", model, category, key)

			source := f.String("source", "")
			if p.Window.RunNumber == 1 && f.Has("initial_source") {
				source = f.String("initial_source", "")
			}
			if source == "" {
				return nil, config.NewConfigError(cfgKey+".source", "is required")
			}
			source = p.substitute(source, model)

			d := decl{model: model, category: category, key: key, output: output}
			target := p.substitute(firstNonEmpty(f.String("in_work", ""), f.String("target", "")), model)
			if strings.HasSuffix(target, "/") {
				d.subfolder = strings.TrimSuffix(target, "/")
				target = ""
			}
			d.name = p.substitute(f.String("name", ""), model)
			d.explicitName = d.name != ""
			d.target = firstNonEmpty(target, d.name, filepath.Base(source))
			d.name = firstNonEmpty(d.name, d.target)

			if output {
				// outputs are patterns relative to the work directory
				if filepath.IsAbs(source) {
					return nil, config.NewConfigError(cfgKey+".source", "output sources are relative to the work directory")
				}
				if err := validation.ValidateRelative(source); err != nil {
					return nil, config.WrapConfigError(cfgKey+".source", "invalid", err)
				}
				d.target = source
				if !d.explicitName {
					d.name = filepath.Base(source)
				}
			} else if !filepath.IsAbs(source) {
				source = filepath.Join(p.Layout.PersistentDir(category, model), source)
			}
			d.source = filepath.Clean(source)

			if err := validation.ValidateRelative(d.subfolder); err != nil {
				return nil, config.WrapConfigError(cfgKey+".target", "invalid", err)
			}
			if err := validation.ValidateRelative(d.target); err != nil {
				return nil, config.WrapConfigError(cfgKey+".in_work", "invalid", err)
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// expandGlobs turns input wildcard sources into one entry per match.
// Year-templated sources are globbed after year substitution instead. An
// unmatched pattern stays as-is so execution reports it missing.
func expandGlobs(decls []decl) ([]decl, error) {
	var out []decl
	for _, d := range decls {
		if d.output || strings.Contains(d.source, yearPlaceholder) || !hasGlob(d.source) {
			out = append(out, d)
			continue
		}
		matches, err := glob(d)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

func glob(d decl) ([]decl, error) {
	matches, err := filepath.Glob(d.source)
	if err != nil {
		return nil, config.WrapConfigError(d.model+".files."+d.category+"."+d.key, "bad source pattern", err)
	}
	if len(matches) == 0 {
		return []decl{d}, nil
	}
	out := make([]decl, 0, len(matches))
	for _, m := range matches {
		e := d
		e.source = m
		e.target = filepath.Base(m)
		e.name = e.target
		out = append(out, e)
	}
	return out, nil
}

const yearPlaceholder = "@YEAR@"

func expandYears(p Params, sec config.Section, decls []decl) ([]decl, error) {
	var out []decl
	for _, d := range decls {
		if !strings.Contains(d.source+d.name+d.target, yearPlaceholder) {
			out = append(out, d)
			continue
		}
		timeStep, err := sec.Int("time_step", 0)
		if err != nil {
			return nil, config.WrapConfigError(d.model+".time_step", "invalid", err)
		}
		w := p.Window
		years, err := yearsFor(w.Calendar, w.CurrentDate, w.NextDate, w.EndDate, sec.Map("needs").Strings(d.category), timeStep)
		if err != nil {
			return nil, err
		}
		for _, y := range years {
			ys := strconv.Itoa(y)
			e := d
			e.source = strings.ReplaceAll(d.source, yearPlaceholder, ys)
			e.name = strings.ReplaceAll(d.name, yearPlaceholder, ys)
			e.target = strings.ReplaceAll(d.target, yearPlaceholder, ys)
			if !e.output && hasGlob(e.source) {
				matches, err := glob(e)
				if err != nil {
					return nil, err
				}
				out = append(out, matches...)
				continue
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (p Params) place(d decl, stamp string, initCats []string, policies *Policies) StagedFile {
	f := StagedFile{
		Model:            d.model,
		Category:         d.category,
		Key:              d.key,
		Output:           d.output,
		IntermediateDir:  p.Layout.IntermediateDir(stamp, d.category, d.model),
		IntermediateName: d.name,
		TargetName:       d.target,
		Subfolder:        d.subfolder,
		Policy:           policies.ResolveAll(d.model, d.category),
	}
	f.IntermediatePath = filepath.Join(f.IntermediateDir, f.IntermediateName)
	f.TargetPath = filepath.Join(p.Layout.WorkDir(stamp), f.Subfolder, f.TargetName)

	persistent := p.Layout.PersistentDir(d.category, d.model)
	switch {
	case d.output:
		f.SourcePath = filepath.Join(persistent, f.IntermediateName)
	case contains(initCats, d.category) && !within(d.source, persistent):
		f.InitPath = d.source
		f.SourcePath = filepath.Join(persistent, f.IntermediateName)
	default:
		f.SourcePath = d.source
	}
	return f
}

// ExpandOutputs resolves output patterns against the files present in
// the work directory. Patterns with no match are kept so the missing
// output is reported.
func (p *Plan) ExpandOutputs() (*Plan, error) {
	out := &Plan{Stamp: p.Stamp, RunDir: p.RunDir, WorkDir: p.WorkDir}
	for _, e := range p.Entries {
		if !e.Output || !hasGlob(e.TargetPath) {
			out.Entries = append(out.Entries, e)
			continue
		}
		matches, err := filepath.Glob(e.TargetPath)
		if err != nil {
			return nil, fmt.Errorf("bad output pattern %s: %w", e.TargetPath, err)
		}
		if len(matches) == 0 {
			out.Entries = append(out.Entries, e)
			continue
		}
		persistentDir := filepath.Dir(e.SourcePath)
		for _, m := range matches {
			x := e
			name := filepath.Base(m)
			x.TargetPath = m
			x.TargetName = name
			x.IntermediateName = name
			x.IntermediatePath = filepath.Join(x.IntermediateDir, name)
			x.SourcePath = filepath.Join(persistentDir, name)
			out.Entries = append(out.Entries, x)
		}
	}
	out.normalize()
	return out, nil
}

func (p Params) substitute(s, model string) string {
	if s == "" {
		return s
	}
	w := p.Window
	return strings.NewReplacer(
		"@EXP_DIR@", p.Layout.ExpDir,
		"@MODEL@", model,
		"@CURRENT_DATE@", w.CurrentDate.Stamp(),
		"@PREV_DATE@", w.PrevDate().Stamp(),
		"@RUN_NUMBER@", strconv.Itoa(w.RunNumber),
	).Replace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
