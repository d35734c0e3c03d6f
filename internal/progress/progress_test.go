package progress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type recordingReporter struct {
	NoOpProgress
	last int64
}

func (r *recordingReporter) Update(current int64) { r.last = current }

func TestCounterAccumulatesAcrossFiles(t *testing.T) {
	rep := &recordingReporter{}
	c := NewCounter(rep, 100)

	var dst bytes.Buffer
	w := c.Writer(&dst)
	io.Copy(w, strings.NewReader("hello"))
	io.Copy(w, strings.NewReader("world!"))

	if c.Done() != 111 {
		t.Errorf("Done() = %d, want 111", c.Done())
	}
	if rep.last != 111 {
		t.Errorf("reporter last = %d, want 111", rep.last)
	}
	if dst.String() != "helloworld!" {
		t.Errorf("passthrough = %q", dst.String())
	}
}

func TestNewDisabledIsNoOp(t *testing.T) {
	if _, ok := New(false).(*NoOpProgress); !ok {
		t.Error("New(false) should be a no-op reporter")
	}
}

func TestMirrorUIWithoutTerminal(t *testing.T) {
	ui := NewMirrorUI(2, false)
	var out bytes.Buffer
	ui.out = &out

	fb := ui.AddFileBar("/exp/outdata/fesom/a.nc", "s3://bucket/a.nc", 2048)
	io.Copy(io.Discard, fb.Reader(strings.NewReader("xx")))
	fb.Complete(nil)
	ui.AddFileBar("/exp/outdata/fesom/b.nc", "s3://bucket/b.nc", 10).Complete(errors.New("denied"))
	ui.Wait()

	got := out.String()
	for _, want := range []string{"[1/2]", "[2/2]", "✓ …/fesom/a.nc", "✗ …/fesom/b.nc", "denied"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path string
		n    int
		want string
	}{
		{"/a/b/c/d/file.txt", 3, "…/c/d/file.txt"},
		{"file.txt", 2, "file.txt"},
		{"dir/file.txt", 2, "file.txt"},
	}
	for _, tt := range tests {
		if got := truncatePath(tt.path, tt.n); got != tt.want {
			t.Errorf("truncatePath(%q, %d) = %q, want %q", tt.path, tt.n, got, tt.want)
		}
	}
}
