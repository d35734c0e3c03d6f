package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/monitor"
	"github.com/rescale/simchain/internal/staging"
	"github.com/rescale/simchain/internal/workflow"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"config", config.NewConfigError("general.scheduler", "is required"), 2},
		{"wrapped config", fmt.Errorf("prepare: %w", config.NewConfigError("x", "bad")), 2},
		{"kill", fmt.Errorf("observe: %w", &monitor.KilledError{JobID: "7"}), 42},
		{"submit", errors.Join(&workflow.SubmitError{Phase: "compute", Err: errors.New("sbatch: error")}), 1},
		{"other", errors.New("disk full"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRootCmd(t *testing.T) {
	root := NewRootCmd()
	AddCommands(root)

	found := map[string]bool{}
	for _, sub := range root.Commands() {
		found[sub.Name()] = true
	}
	for _, want := range []string{"run", "plan", "status", "history", "settings", "completion"} {
		if !found[want] {
			t.Errorf("subcommand %q not found", want)
		}
	}
}

func TestRunFlags(t *testing.T) {
	cmd := newRunCmd()
	shorthands := map[string]string{
		"task": "t", "pid": "p", "jobid": "j", "start-date": "s", "run-number": "r",
	}
	for name, short := range shorthands {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			t.Errorf("--%s flag not found", name)
			continue
		}
		if f.Shorthand != short {
			t.Errorf("--%s shorthand = %q, want %q", name, f.Shorthand, short)
		}
	}
	if cmd.Flags().Lookup("check") == nil {
		t.Error("--check flag not found")
	}
}

func TestSetSetting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simchain.conf")

	if _, err := setSetting(path, "monitor.poll_seconds", "30"); err != nil {
		t.Fatalf("setSetting() error = %v", err)
	}
	s, err := config.LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.Monitor.PollSeconds != 30 {
		t.Errorf("PollSeconds = %d, want 30", s.Monitor.PollSeconds)
	}

	if _, err := setSetting(path, "monitor.poll_seconds", "0"); !config.IsConfigError(err) {
		t.Errorf("setSetting(0) error = %v, want ConfigError", err)
	}
	if _, err := setSetting(path, "archive.backend", "s3"); !config.IsConfigError(err) {
		t.Errorf("setSetting(s3 without bucket) error = %v, want ConfigError", err)
	}
	if _, err := setSetting(path, "monitor.colour", "blue"); !config.IsConfigError(err) {
		t.Errorf("setSetting(unknown) error = %v, want ConfigError", err)
	}
	if _, err := setSetting(path, "poll_seconds", "5"); !config.IsConfigError(err) {
		t.Errorf("setSetting(no section) error = %v, want ConfigError", err)
	}

	s, err = config.LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.Monitor.PollSeconds != 30 || s.Archive.Backend != "none" {
		t.Errorf("rejected values were saved: poll=%d backend=%s", s.Monitor.PollSeconds, s.Archive.Backend)
	}
}

func writeExperiment(t *testing.T) string {
	t.Helper()
	t.Setenv("SLURM_JOB_ID", "")
	t.Setenv("SLURM_JOBID", "")
	root := t.TempDir()
	pool := filepath.Join(root, "pool")
	if err := os.MkdirAll(pool, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pool, "fesom.x"), []byte("binary"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc := fmt.Sprintf(`general:
  expid: demo
  base_dir: %s
  models: [fesom]
  initial_date: 2000-01-01
  final_date: 2003-01-01
  nyear: 1
  scheduler: slurm
computer:
  partition: compute
  time_limit: "00:30:00"
  cores_per_node: 64
fesom:
  executable: fesom.x
  nproc: 8
  files:
    bin:
      exe: {source: %s/fesom.x}
    outdata:
      all: {source: "*.nc"}
`, filepath.Join(root, "exps"), pool)
	path := filepath.Join(root, "demo.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	AddCommands(root)
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	args = append(args, "--settings", filepath.Join(t.TempDir(), "simchain.conf"))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCheckMode(t *testing.T) {
	cfg := writeExperiment(t)
	out, err := execute(t, "run", cfg, "-t", "prepcompute", "--check")
	if err != nil {
		t.Fatalf("run --check error = %v", err)
	}
	for _, want := range []string{"archive_init: 1 entries", "would run: sbatch"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestRunRequiresTask(t *testing.T) {
	cfg := writeExperiment(t)
	_, err := execute(t, "run", cfg)
	if ExitCode(err) != 2 {
		t.Errorf("run without --task exit = %d (%v), want 2", ExitCode(err), err)
	}
	_, err = execute(t, "run", cfg, "-t", "tidy", "-s", "2001-01-01")
	if ExitCode(err) != 2 {
		t.Errorf("run with -s only exit = %d (%v), want 2", ExitCode(err), err)
	}
}

func TestPlanYAML(t *testing.T) {
	cfg := writeExperiment(t)
	out, err := execute(t, "plan", cfg, "--yaml", "-s", "2001-01-01", "-r", "2")
	if err != nil {
		t.Fatalf("plan --yaml error = %v", err)
	}
	var plan staging.Plan
	if err := yaml.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("plan output is not YAML: %v\n%s", err, out)
	}
	if plan.Stamp != "20010101-20011231" {
		t.Errorf("Stamp = %q, want 20010101-20011231", plan.Stamp)
	}
	if len(plan.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(plan.Entries))
	}
}

func TestStatusBeforeFirstRun(t *testing.T) {
	cfg := writeExperiment(t)
	out, err := execute(t, "status", cfg)
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	for _, want := range []string{"Experiment demo", "not started", "run 1: 2000-01-01T00:00:00", "scheduler: slurm"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output lacks %q:\n%s", want, out)
		}
	}
}
