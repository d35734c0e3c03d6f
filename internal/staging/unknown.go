package staging

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// ScanUnknown walks the work directory and returns, relative to it, every
// file no plan entry accounts for. Directories that are plan targets are
// not descended into.
func ScanUnknown(p *Plan) ([]string, error) {
	var unknown []string
	err := filepath.WalkDir(p.WorkDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.WorkDir && errorIsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if path == p.WorkDir {
			return nil
		}
		if p.isKnown(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.WorkDir, path)
		if err != nil {
			return err
		}
		unknown = append(unknown, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(unknown)
	return unknown, nil
}

// UnknownEntries routes unknown work files into the unknown-files tier.
// The entries use the run tier slot, so they are staged with
// Execute(entries, TierWork, TierRun) under the "unknown" category's
// work_to_run movement.
func UnknownEntries(rels []string, workDir, unknownDir string, policies *Policies) []StagedFile {
	out := make([]StagedFile, 0, len(rels))
	for _, rel := range rels {
		f := StagedFile{
			Model:            "general",
			Category:         UnknownCategory,
			Key:              rel,
			Output:           true,
			IntermediateDir:  filepath.Join(unknownDir, filepath.Dir(rel)),
			IntermediateName: filepath.Base(rel),
			TargetName:       filepath.Base(rel),
			Subfolder:        filepath.Dir(rel),
			IntermediatePath: filepath.Join(unknownDir, rel),
			TargetPath:       filepath.Join(workDir, rel),
			Policy:           map[Direction]Movement{WorkToRun: Copy},
		}
		if policies != nil {
			f.Policy[WorkToRun] = policies.Resolve("general", UnknownCategory, WorkToRun)
		}
		out = append(out, f)
	}
	return out
}
