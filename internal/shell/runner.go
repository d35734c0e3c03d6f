//go:build !windows

// Package shell runs the scheduler clients and shell-mode phases.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Result is the outcome of a finished command.
type Result struct {
	Command  string
	Output   string
	ExitCode int
}

// Runner executes shell command lines.
type Runner interface {
	// Run executes command under bash in dir and waits for it. A nonzero
	// exit is returned as an *ExitError together with the captured output.
	Run(ctx context.Context, dir, command string) (Result, error)

	// Start launches command detached in its own session, appending its
	// output to logPath, and returns the child pid without waiting.
	Start(dir, command, logPath string) (int, error)
}

// ExitError reports a command that ran but exited nonzero.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
}

// Exec runs commands through /bin/bash -c.
type Exec struct {
	Shell string
	Env   []string
}

// NewExec returns a Runner using bash and the current environment.
func NewExec() *Exec {
	return &Exec{Shell: "/bin/bash"}
}

func (x *Exec) command(ctx context.Context, dir, command string) *exec.Cmd {
	shell := x.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	var cmd *exec.Cmd
	if ctx != nil {
		cmd = exec.CommandContext(ctx, shell, "-c", command)
	} else {
		cmd = exec.Command(shell, "-c", command)
	}
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), x.Env...)
	return cmd
}

func (x *Exec) Run(ctx context.Context, dir, command string) (Result, error) {
	cmd := x.command(ctx, dir, command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res := Result{Command: command, Output: out.String()}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			return res, &ExitError{Command: command, ExitCode: res.ExitCode, Output: res.Output}
		}
		return res, fmt.Errorf("failed to run %q: %w", command, err)
	}
	return res, nil
}

func (x *Exec) Start(dir, command, logPath string) (int, error) {
	cmd := x.command(nil, dir, command)
	cmd.Stdin = nil
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to open phase log: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %q: %w", command, err)
	}
	pid := cmd.Process.Pid
	cmd.Process.Release()
	return pid, nil
}

// Alive reports whether a process with pid exists. EPERM counts as alive:
// the process is there, we just may not signal it.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
