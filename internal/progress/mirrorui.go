package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// MirrorUI draws one bar per file while uploading to object storage.
// Without a terminal it prints one line per file instead.
type MirrorUI struct {
	progress   *mpb.Progress
	isTerminal bool
	totalFiles int
	started    int32
	out        io.Writer
}

// FileBar is the bar of a single upload.
type FileBar struct {
	bar       *mpb.Bar
	ui        *MirrorUI
	index     int
	path      string
	dest      string
	size      int64
	retries   int32
	startTime time.Time
}

// NewMirrorUI creates a UI for totalFiles uploads.
func NewMirrorUI(totalFiles int, enabled bool) *MirrorUI {
	isTerminal := enabled && StderrIsTerminal()

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &MirrorUI{
		progress:   p,
		isTerminal: isTerminal,
		totalFiles: totalFiles,
		out:        os.Stderr,
	}
}

// AddFileBar starts the bar for one file.
func (u *MirrorUI) AddFileBar(localPath, dest string, size int64) *FileBar {
	index := int(atomic.AddInt32(&u.started, 1))
	fb := &FileBar{
		ui:        u,
		index:     index,
		path:      localPath,
		dest:      dest,
		size:      size,
		startTime: time.Now(),
	}

	label := fmt.Sprintf("[%d/%d] %s (%.1f MiB)", index, u.totalFiles, truncatePath(localPath, 2), float64(size)/(1024*1024))
	if u.isTerminal {
		fb.bar = u.progress.New(size,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(
				decor.Any(func(s decor.Statistics) string {
					if r := atomic.LoadInt32(&fb.retries); r > 0 {
						return fmt.Sprintf("%s (retry %d)", label, r)
					}
					return label
				}, decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Fprintf(u.out, "Mirroring %s → %s\n", label, dest)
	}
	return fb
}

// Reader wraps r so that reads advance the bar.
func (f *FileBar) Reader(r io.Reader) io.Reader {
	if f.bar == nil {
		return r
	}
	return f.bar.ProxyReader(r)
}

// SetRetry records a retry on the bar label.
func (f *FileBar) SetRetry(count int) {
	atomic.StoreInt32(&f.retries, int32(count))
	if f.bar != nil && count > 0 {
		f.bar.SetCurrent(0)
	}
}

// Complete finishes the bar and prints a one-line summary.
func (f *FileBar) Complete(err error) {
	elapsed := time.Since(f.startTime)
	var msg string
	if err == nil {
		if f.bar != nil {
			f.bar.SetCurrent(f.size)
			f.bar.SetTotal(f.size, true)
		}
		msg = fmt.Sprintf("✓ %s → %s (%.1f MiB, %s)\n",
			truncatePath(f.path, 2), f.dest, float64(f.size)/(1024*1024), elapsed.Round(time.Second))
	} else {
		if f.bar != nil {
			f.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s → %s: %v (after %d retries)\n",
			truncatePath(f.path, 2), f.dest, err, atomic.LoadInt32(&f.retries))
	}
	if f.ui.isTerminal {
		f.ui.progress.Write([]byte(msg))
	} else {
		fmt.Fprint(f.ui.out, msg)
	}
}

// Wait blocks until all bars complete.
func (u *MirrorUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer prints above the bars when they are active.
func (u *MirrorUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal reports whether bars are drawn.
func (u *MirrorUI) IsTerminal() bool {
	return u.isTerminal
}

// truncatePath keeps the last maxComponents components of path.
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
