//go:build !windows

package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExecRun(t *testing.T) {
	x := NewExec()
	dir := t.TempDir()

	res, err := x.Run(context.Background(), dir, "echo hello; pwd")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(res.Output, "hello") {
		t.Errorf("Output = %q, want hello", res.Output)
	}

	_, err = x.Run(context.Background(), dir, "echo nope >&2; exit 3")
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("Run() error = %v, want ExitError", err)
	}
	if ee.ExitCode != 3 || !strings.Contains(ee.Output, "nope") {
		t.Errorf("ExitError = %+v", ee)
	}
}

func TestExecStartDetached(t *testing.T) {
	x := NewExec()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "phase.log")

	pid, err := x.Start(dir, "echo started", logPath)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if pid <= 0 {
		t.Fatalf("pid = %d", pid)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(logPath)
		if strings.Contains(string(data), "started") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("detached command output never reached the log")
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive(self) = false")
	}
	if Alive(0) || Alive(-1) {
		t.Error("non-positive pids must not be alive")
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Respond("sbatch", "Submitted batch job 77", 0)
	r.Respond("scancel", "", 1)

	res, err := r.Run(context.Background(), "", "sbatch job.run")
	if err != nil || res.Output != "Submitted batch job 77" {
		t.Errorf("Run(sbatch) = %+v, %v", res, err)
	}
	if _, err := r.Run(context.Background(), "", "scancel 77"); err == nil {
		t.Error("Run(scancel) expected error")
	}
	if !r.Ran("sbatch") || r.Ran("qsub") {
		t.Errorf("Commands = %v", r.Commands)
	}
}
