// Package progress reports byte progress while staging and mirroring files.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Reporter receives progress for one long-running operation.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// StderrIsTerminal reports whether bars would be visible.
func StderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// New returns a CLI bar when enabled and stderr is a terminal, otherwise
// a reporter that does nothing. Batch jobs write to files, so bars are
// never drawn there.
func New(enabled bool) Reporter {
	if enabled && StderrIsTerminal() {
		return NewCLIProgress()
	}
	return NewNoOpProgress()
}

// CLIProgress draws a single byte bar on stderr.
type CLIProgress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewCLIProgress creates a new CLI progress reporter.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{out: os.Stderr}
}

// Start initializes the progress bar with total size and description.
func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// NoOpProgress is a progress reporter that does nothing.
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                               {}
func (p *NoOpProgress) Error(err error)                       {}
func (p *NoOpProgress) SetDescription(desc string)            {}

// Counter accumulates bytes across several files into one Reporter.
type Counter struct {
	reporter Reporter
	done     int64
}

// NewCounter wraps reporter; base is the byte count already done.
func NewCounter(reporter Reporter, base int64) *Counter {
	return &Counter{reporter: reporter, done: base}
}

// Add records n more bytes.
func (c *Counter) Add(n int64) {
	c.done += n
	c.reporter.Update(c.done)
}

// Done returns the bytes recorded so far.
func (c *Counter) Done() int64 {
	return c.done
}

// Writer returns an io.Writer that counts what passes through it.
func (c *Counter) Writer(w io.Writer) io.Writer {
	return &countingWriter{w: w, c: c}
}

type countingWriter struct {
	w io.Writer
	c *Counter
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.c.Add(int64(n))
	return n, err
}
