package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Section is one top-level block of the run configuration
// (general, computer, or a model name).
type Section map[string]interface{}

// Tree is the run configuration: one section per model plus general.
// A Tree is owned by a single phase invocation; other processes see it
// only through Save and LoadTree.
type Tree struct {
	root map[string]interface{}
	path string
}

// NewTree wraps an already-decoded map.
func NewTree(root map[string]interface{}) *Tree {
	if root == nil {
		root = map[string]interface{}{}
	}
	return &Tree{root: root}
}

// ParseTree decodes YAML bytes into a Tree.
func ParseTree(data []byte) (*Tree, error) {
	root := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse run configuration: %w", err)
	}
	return NewTree(normalize(root).(map[string]interface{})), nil
}

// LoadTree reads a YAML run configuration. Files listed under
// general.include are merged first, in order, and the main file wins.
func LoadTree(path string) (*Tree, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	root, err := loadWithIncludes(abs, map[string]bool{})
	if err != nil {
		return nil, err
	}
	t := NewTree(root)
	t.path = abs
	return t, nil
}

func loadWithIncludes(path string, seen map[string]bool) (map[string]interface{}, error) {
	if seen[path] {
		return nil, NewConfigError("general.include", "include cycle through %s", path)
	}
	seen[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run configuration: %w", err)
	}
	t, err := ParseTree(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	merged := map[string]interface{}{}
	for _, inc := range t.Section("general").Strings("include") {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		sub, err := loadWithIncludes(inc, seen)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, sub)
	}
	return deepMerge(merged, t.root), nil
}

// deepMerge overlays src onto dst; nested maps merge, everything else replaces.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	for k, v := range src {
		if sm, ok := v.(map[string]interface{}); ok {
			if dm, ok := dst[k].(map[string]interface{}); ok {
				dst[k] = deepMerge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// normalize converts map[interface{}]interface{} nodes into string-keyed maps.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		for k, val := range x {
			x[k] = normalize(val)
		}
		return x
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []interface{}:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	default:
		return v
	}
}

// Path returns the file the tree was loaded from, if any.
func (t *Tree) Path() string {
	return t.path
}

// Section returns a top-level section, or an empty one.
func (t *Tree) Section(name string) Section {
	if m, ok := t.root[name].(map[string]interface{}); ok {
		return Section(m)
	}
	return Section{}
}

// EnsureSection returns a section, creating it if absent.
func (t *Tree) EnsureSection(name string) Section {
	if m, ok := t.root[name].(map[string]interface{}); ok {
		return Section(m)
	}
	m := map[string]interface{}{}
	t.root[name] = m
	return Section(m)
}

// HasSection reports whether a top-level section exists.
func (t *Tree) HasSection(name string) bool {
	_, ok := t.root[name].(map[string]interface{})
	return ok
}

// Models returns general.models in declaration order.
func (t *Tree) Models() []string {
	return t.Section("general").Strings("models")
}

// Clone returns a deep copy, used when an in-process successor needs its own tree.
func (t *Tree) Clone() *Tree {
	return &Tree{root: deepCopy(t.root).(map[string]interface{}), path: t.path}
}

func deepCopy(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, val := range x {
			m[k] = deepCopy(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(x))
		for i := range x {
			s[i] = deepCopy(x[i])
		}
		return s
	default:
		return v
	}
}

// Marshal renders the tree as YAML.
func (t *Tree) Marshal() ([]byte, error) {
	return yaml.Marshal(t.root)
}

// Save writes the tree as YAML atomically.
func (t *Tree) Save(path string) error {
	data, err := t.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal run configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write run configuration: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save run configuration: %w", err)
	}
	return nil
}

// Has reports whether key is present.
func (s Section) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the section keys sorted.
func (s Section) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns a scalar as a string, or def when absent.
func (s Section) String(key, def string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.Format("2006-01-02T15:04:05")
	default:
		return fmt.Sprint(x)
	}
}

// Int returns an integer value. A present but non-integer value is an error.
func (s Section) Int(key string, def int) (int, error) {
	v, ok := s[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("%s: %v is not an integer", key, x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not an integer", key, x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}

// IsInt reports whether key holds a concrete integer (not a placeholder string).
func (s Section) IsInt(key string) bool {
	if _, ok := s[key]; !ok {
		return false
	}
	_, err := s.Int(key, 0)
	return err == nil
}

// Bool returns a boolean value, accepting yes/no/true/false strings.
func (s Section) Bool(key string, def bool) bool {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	}
	return def
}

// Strings returns a list value. A single scalar becomes a one-element list.
func (s Section) Strings(key string) []string {
	v, ok := s[key]
	if !ok || v == nil {
		return nil
	}
	switch x := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	default:
		return []string{fmt.Sprint(x)}
	}
}

// Map returns a nested map as a Section, or an empty one.
func (s Section) Map(key string) Section {
	if m, ok := s[key].(map[string]interface{}); ok {
		return Section(m)
	}
	return Section{}
}

// List returns a list of nested maps.
func (s Section) List(key string) []Section {
	items, ok := s[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]Section, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, Section(m))
		}
	}
	return out
}

// Set stores a value.
func (s Section) Set(key string, value interface{}) {
	s[key] = value
}
