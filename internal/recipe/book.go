package recipe

import (
	"sort"

	"github.com/rescale/simchain/internal/config"
)

// Book maps a phase name to its ordered step names.
type Book map[string][]string

// Clone copies b.
func (b Book) Clone() Book {
	out := make(Book, len(b))
	for k, v := range b {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Steps returns the recipe for phase.
func (b Book) Steps(phase string) ([]string, bool) {
	s, ok := b[phase]
	return s, ok
}

// BookFromTree starts from defaults and replaces the recipe of every
// phase listed under general.recipes.
func BookFromTree(tree *config.Tree, defaults Book) (Book, error) {
	book := defaults.Clone()
	overrides := tree.Section("general").Map("recipes")
	for _, phase := range overrides.Keys() {
		switch overrides[phase].(type) {
		case []interface{}, []string:
		default:
			return nil, config.NewConfigError("general.recipes."+phase, "must be a list of step names")
		}
		book[phase] = overrides.Strings(phase)
	}
	return book, nil
}

// Validate checks that every step named in b is registered.
func Validate[C any](b Book, r *Registry[C]) error {
	for _, phase := range sortedPhases(b) {
		if _, err := r.Resolve(b[phase]); err != nil {
			return err
		}
	}
	return nil
}

func sortedPhases(b Book) []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
