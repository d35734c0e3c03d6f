package staging

import (
	"sort"

	"github.com/rescale/simchain/internal/config"
)

// Policies resolves movements for (model, category, direction).
//
// Lookup order: model.category.direction, model.category.all_directions,
// model.default.direction, model.default.all_directions, then the same
// four under general, then copy.
type Policies struct {
	general policyTable
	models  map[string]policyTable
}

// policyTable maps category (or "default") to per-direction movements.
type policyTable map[string]map[string]Movement

// LoadPolicies reads every file_movements block of the tree and rejects
// malformed ones.
func LoadPolicies(tree *config.Tree) (*Policies, error) {
	p := &Policies{models: map[string]policyTable{}}

	var err error
	if p.general, err = parseTable("general", tree.Section("general").Map("file_movements")); err != nil {
		return nil, err
	}
	for _, model := range tree.Models() {
		t, err := parseTable(model, tree.Section(model).Map("file_movements"))
		if err != nil {
			return nil, err
		}
		p.models[model] = t
	}
	return p, nil
}

func parseTable(owner string, sec config.Section) (policyTable, error) {
	table := policyTable{}
	for _, category := range sec.Keys() {
		block := sec.Map(category)
		key := owner + ".file_movements." + category
		if len(block) == 0 && sec.Has(category) {
			return nil, config.NewConfigError(key, "must be a mapping of direction to movement")
		}

		entry := map[string]Movement{}
		for _, dirKey := range block.Keys() {
			if dirKey != AllDirectionsKey {
				if _, ok := ParseDirection(dirKey); !ok {
					return nil, config.NewConfigError(key+"."+dirKey, "unknown direction")
				}
			}
			raw := block.String(dirKey, "")
			m, ok := ParseMovement(raw)
			if !ok {
				return nil, config.NewConfigError(key+"."+dirKey, "unknown movement %q (copy, link or move)", raw)
			}
			entry[dirKey] = m
		}

		if all, ok := entry[AllDirectionsKey]; ok {
			for dirKey, m := range entry {
				if dirKey != AllDirectionsKey && m != all {
					return nil, config.NewConfigError(key, "%s is %s but %s is %s", AllDirectionsKey, all, dirKey, m)
				}
			}
		}
		table[category] = entry
	}
	return table, nil
}

func (t policyTable) lookup(category string, d Direction) (Movement, bool) {
	for _, c := range []string{category, "default"} {
		entry, ok := t[c]
		if !ok {
			continue
		}
		if m, ok := entry[string(d)]; ok {
			return m, true
		}
		if m, ok := entry[AllDirectionsKey]; ok {
			return m, true
		}
	}
	return "", false
}

// Resolve returns the movement for one file category in one direction.
func (p *Policies) Resolve(model, category string, d Direction) Movement {
	if t, ok := p.models[model]; ok {
		if m, ok := t.lookup(category, d); ok {
			return m
		}
	}
	if m, ok := p.general.lookup(category, d); ok {
		return m
	}
	return Copy
}

// ResolveAll resolves every direction for a category.
func (p *Policies) ResolveAll(model, category string) map[Direction]Movement {
	out := make(map[Direction]Movement, len(AllDirections))
	for _, d := range AllDirections {
		out[d] = p.Resolve(model, category, d)
	}
	return out
}

// Models returns the models that declared their own table.
func (p *Policies) Models() []string {
	names := make([]string, 0, len(p.models))
	for m := range p.models {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}
