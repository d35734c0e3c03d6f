package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/constants"
	"github.com/rescale/simchain/internal/shell"
)

// fakeClock drives the loop without real sleeping.
type fakeClock struct {
	sleeps  int
	aliveN  int
	onSleep func(n int)
}

func (c *fakeClock) alive(int) bool {
	if c.aliveN < 0 {
		return true
	}
	return c.sleeps < c.aliveN
}

func (c *fakeClock) sleep(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps++
	if c.onSleep != nil {
		c.onSleep(c.sleeps)
	}
	return nil
}

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestKillTriggerCancelsJob(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "fesom.log")
	writeLog(t, logPath, "step 1\nERROR: disk full\n")

	rec := shell.NewRecorder()
	clock := &fakeClock{aliveN: -1}
	m := New(Config{
		Phase: "compute",
		PID:   4242,
		JobID: "123",
		Triggers: []*Trigger{{
			Keyword:   "ERROR",
			File:      logPath,
			Action:    ActionKill,
			NextCheck: 60 * time.Second,
			Interval:  60 * time.Second,
			Message:   "fatal condition",
		}},
		PollPeriod: 10 * time.Second,
		StatusPath: filepath.Join(dir, "monitor_compute.json"),
		Alive:      clock.alive,
		Sleep:      clock.sleep,
		Cancel:     CancelWith(rec, func(id string) string { return "scancel " + id }),
	})

	state, err := m.Run(context.Background())
	var killed *KilledError
	if !errors.As(err, &killed) {
		t.Fatalf("Run() error = %v, want KilledError", err)
	}
	if killed.ExitCode() != constants.ExitMonitorKill {
		t.Errorf("ExitCode() = %d, want %d", killed.ExitCode(), constants.ExitMonitorKill)
	}
	if state != StateErrorKilled {
		t.Errorf("state = %s, want %s", state, StateErrorKilled)
	}
	if m.Elapsed() != 60*time.Second {
		t.Errorf("killed at elapsed %v, want 60s", m.Elapsed())
	}
	if clock.sleeps != 6 {
		t.Errorf("sleeps = %d, want 6", clock.sleeps)
	}
	if !rec.Ran("scancel 123") {
		t.Errorf("cancel command not issued, ran %v", rec.Commands)
	}

	status, err := LoadStatus(filepath.Join(dir, "monitor_compute.json"))
	if err != nil {
		t.Fatalf("LoadStatus() error = %v", err)
	}
	if status.State != StateErrorKilled || status.Message != "fatal condition" {
		t.Errorf("persisted status = %+v", status)
	}
}

func TestWarnTriggerFiresOncePerMatch(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "echam.log")
	writeLog(t, logPath, "")

	clock := &fakeClock{aliveN: 5}
	clock.onSleep = func(n int) {
		switch n {
		case 1:
			writeLog(t, logPath, "WARNING: cfl\n")
		case 3:
			writeLog(t, logPath, "WARNING: cfl\nWARNING: cfl again\n")
		}
	}
	trig := &Trigger{Keyword: "WARNING", File: logPath, Action: ActionWarn, Interval: 10 * time.Second}
	m := New(Config{
		Triggers:   []*Trigger{trig},
		PollPeriod: 10 * time.Second,
		Alive:      clock.alive,
		Sleep:      clock.sleep,
	})

	state, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if state != StateDone {
		t.Errorf("state = %s, want %s", state, StateDone)
	}
	if trig.matches != 2 {
		t.Errorf("matches = %d, want 2", trig.matches)
	}
	if trig.NextCheck != 50*time.Second {
		t.Errorf("NextCheck = %v, want 50s", trig.NextCheck)
	}
}

func TestFinalPassCatchesLastLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "fesom.log")
	writeLog(t, logPath, "")

	rec := shell.NewRecorder()
	clock := &fakeClock{aliveN: 2}
	clock.onSleep = func(n int) {
		if n == 2 {
			writeLog(t, logPath, "ERROR: blowup\n")
		}
	}
	m := New(Config{
		JobID: "77",
		Triggers: []*Trigger{{
			Keyword: "ERROR", File: logPath, Action: ActionKill,
			NextCheck: time.Hour, Interval: time.Hour,
		}},
		PollPeriod: 10 * time.Second,
		Alive:      clock.alive,
		Sleep:      clock.sleep,
		Cancel:     CancelWith(rec, func(id string) string { return "qdel " + id }),
	})

	_, err := m.Run(context.Background())
	var killed *KilledError
	if !errors.As(err, &killed) {
		t.Fatalf("Run() error = %v, want KilledError from final pass", err)
	}
	if !rec.Ran("qdel 77") {
		t.Error("final pass kill did not cancel the job")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := &fakeClock{aliveN: -1}
	clock.onSleep = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	m := New(Config{PollPeriod: time.Second, Alive: clock.alive, Sleep: clock.sleep})

	state, err := m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if state != StateWaiting {
		t.Errorf("state = %s, want %s", state, StateWaiting)
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext() did not return promptly")
	}
}

func TestReschedule(t *testing.T) {
	tests := []struct {
		next, interval, elapsed, want time.Duration
	}{
		{60, 60, 60, 120},
		{60, 60, 150, 180},
		{60, 60, 30, 60},
		{0, 0, 30, 0},
	}
	for _, tt := range tests {
		trig := &Trigger{NextCheck: tt.next, Interval: tt.interval}
		trig.reschedule(tt.elapsed)
		if trig.NextCheck != tt.want {
			t.Errorf("reschedule(%d) from %d/%d = %d, want %d", tt.elapsed, tt.next, tt.interval, trig.NextCheck, tt.want)
		}
	}
}

func TestTriggersFromTree(t *testing.T) {
	tree, err := config.ParseTree([]byte(`
general:
  models: [fesom]
  error_triggers:
    - {keyword: "ERROR", file: "fesom.log", action: kill, first_check: 60, interval: 60, message: "fatal"}
fesom:
  error_triggers:
    - {keyword: "NaN", file: "/abs/oce.log"}
`))
	if err != nil {
		t.Fatal(err)
	}
	triggers, err := TriggersFromTree(tree, "/work")
	if err != nil {
		t.Fatalf("TriggersFromTree() error = %v", err)
	}
	if len(triggers) != 2 {
		t.Fatalf("triggers = %d, want 2", len(triggers))
	}
	if triggers[0].File != "/work/fesom.log" || triggers[0].NextCheck != time.Minute || triggers[0].Action != ActionKill {
		t.Errorf("triggers[0] = %+v", triggers[0])
	}
	if triggers[1].Action != ActionWarn || triggers[1].File != "/abs/oce.log" || triggers[1].Message == "" {
		t.Errorf("triggers[1] = %+v", triggers[1])
	}

	bad, _ := config.ParseTree([]byte("general:\n  error_triggers:\n    - {keyword: X, file: f, action: explode}\n"))
	if _, err := TriggersFromTree(bad, "/work"); !config.IsConfigError(err) {
		t.Errorf("TriggersFromTree() error = %v, want ConfigError", err)
	}
}
