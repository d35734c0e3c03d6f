package shell

import (
	"context"
	"strings"
	"sync"
)

// Recorder is a Runner that records command lines instead of executing them.
// Responses are matched by command prefix; unmatched commands succeed with
// empty output. Check mode and tests use it.
type Recorder struct {
	mu        sync.Mutex
	Commands  []string
	Started   []string
	responses []response
	nextPID   int
}

type response struct {
	prefix string
	result Result
	err    error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{nextPID: 10000}
}

// Respond registers the result for commands starting with prefix.
func (r *Recorder) Respond(prefix, output string, exitCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := Result{Output: output, ExitCode: exitCode}
	var err error
	if exitCode != 0 {
		err = &ExitError{Command: prefix, ExitCode: exitCode, Output: output}
	}
	r.responses = append(r.responses, response{prefix: prefix, result: res, err: err})
}

func (r *Recorder) Run(_ context.Context, _ string, command string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, command)
	for _, resp := range r.responses {
		if strings.HasPrefix(command, resp.prefix) {
			res := resp.result
			res.Command = command
			return res, resp.err
		}
	}
	return Result{Command: command}, nil
}

func (r *Recorder) Start(_ string, command, _ string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Started = append(r.Started, command)
	r.nextPID++
	return r.nextPID, nil
}

// Ran reports whether any recorded command starts with prefix.
func (r *Recorder) Ran(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
