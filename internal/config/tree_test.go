package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleTree = `
general:
  expid: demo
  base_dir: /scratch/exps
  models: [fesom, echam]
  initial_date: 2000-01-01
  nyear: 1
  leapyear: true
fesom:
  nproc: 128
  placeholder: "@nproc@"
  files:
    forcing:
      sst: {source: /pool/sst.nc}
`

func TestParseTreeAccessors(t *testing.T) {
	tree, err := ParseTree([]byte(sampleTree))
	if err != nil {
		t.Fatalf("ParseTree() error = %v", err)
	}

	if got := tree.Models(); len(got) != 2 || got[0] != "fesom" || got[1] != "echam" {
		t.Errorf("Models() = %v", got)
	}

	g := tree.Section("general")
	if got := g.String("initial_date", ""); got != "2000-01-01T00:00:00" {
		t.Errorf("initial_date = %q, want 2000-01-01T00:00:00", got)
	}
	if !g.Bool("leapyear", false) {
		t.Error("leapyear should be true")
	}

	fesom := tree.Section("fesom")
	n, err := fesom.Int("nproc", 0)
	if err != nil || n != 128 {
		t.Errorf("nproc = %d, %v", n, err)
	}
	if fesom.IsInt("placeholder") {
		t.Error("placeholder string must not count as an integer")
	}
	if _, err := fesom.Int("placeholder", 0); err == nil {
		t.Error("expected error for placeholder integer")
	}

	src := fesom.Map("files").Map("forcing").Map("sst").String("source", "")
	if src != "/pool/sst.nc" {
		t.Errorf("nested source = %q", src)
	}
	if tree.HasSection("echam") {
		t.Error("echam section should not exist")
	}
}

func TestCloneIsDeep(t *testing.T) {
	tree, err := ParseTree([]byte(sampleTree))
	if err != nil {
		t.Fatal(err)
	}
	clone := tree.Clone()
	clone.Section("fesom").Map("files").Map("forcing").Map("sst").Set("source", "/other.nc")

	if got := tree.Section("fesom").Map("files").Map("forcing").Map("sst").String("source", ""); got != "/pool/sst.nc" {
		t.Errorf("original mutated through clone: %q", got)
	}
}

func TestLoadTreeIncludes(t *testing.T) {
	dir := t.TempDir()
	base := `
general:
  scheduler: pbs
  nyear: 5
computer:
  partition: base
`
	main := `
general:
  include: [base.yaml]
  expid: demo
  nyear: 1
`
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run.yaml"), []byte(main), 0644); err != nil {
		t.Fatal(err)
	}

	tree, err := LoadTree(filepath.Join(dir, "run.yaml"))
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}
	g := tree.Section("general")
	if got := g.String("scheduler", ""); got != "pbs" {
		t.Errorf("scheduler = %q, want pbs from include", got)
	}
	if n, _ := g.Int("nyear", 0); n != 1 {
		t.Errorf("nyear = %d, want main file to win", n)
	}
	if got := tree.Section("computer").String("partition", ""); got != "base" {
		t.Errorf("partition = %q", got)
	}
}

func TestLoadTreeIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := "general:\n  include: [b.yaml]\n"
	b := "general:\n  include: [a.yaml]\n"
	os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(a), 0644)
	os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(b), 0644)

	_, err := LoadTree(filepath.Join(dir, "a.yaml"))
	if !IsConfigError(err) {
		t.Errorf("LoadTree() error = %v, want ConfigError", err)
	}
}

func TestTreeSaveRoundTrip(t *testing.T) {
	tree, err := ParseTree([]byte(sampleTree))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := tree.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	again, err := LoadTree(path)
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}
	if n, _ := again.Section("fesom").Int("nproc", 0); n != 128 {
		t.Errorf("nproc after round trip = %d", n)
	}
}

func TestLayout(t *testing.T) {
	tree := NewTree(map[string]interface{}{
		"general": map[string]interface{}{
			"expid":      "demo",
			"setup_name": "awicm",
			"base_dir":   "/scratch/exps",
		},
	})
	l, err := NewLayout(tree)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	checks := map[string]string{
		l.DateFile():                                     "/scratch/exps/demo/scripts/demo_awicm.date",
		l.AuditLog():                                     "/scratch/exps/demo/scripts/demo_awicm.log",
		l.WorkDir("20000101-20001231"):                   "/scratch/exps/demo/run_20000101-20001231/work",
		l.IntermediateDir("20000101-20001231", "forcing", "fesom"): "/scratch/exps/demo/run_20000101-20001231/forcing/fesom",
		l.PersistentDir("restart_out", "fesom"):          "/scratch/exps/demo/restart_out/fesom",
		l.UnknownDir("20000101-20001231"):                "/scratch/exps/demo/unknown/run_20000101-20001231",
	}
	for got, want := range checks {
		if got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	}

	if _, err := NewLayout(NewTree(nil)); !IsConfigError(err) {
		t.Errorf("missing expid should be a ConfigError, got %v", err)
	}
}
