//go:build !windows

package diskspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckAvailableSpace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "not", "yet", "there.nc")

	t.Run("SmallFile", func(t *testing.T) {
		if err := CheckAvailableSpace(target, 1024, 1.05); err != nil {
			t.Errorf("CheckAvailableSpace() error = %v", err)
		}
	})

	t.Run("VeryLargeFile", func(t *testing.T) {
		err := CheckAvailableSpace(target, 1<<60, 1.05)
		if err == nil {
			t.Skip("filesystem reports more than an exabyte free")
		}
		if !IsInsufficientSpaceError(err) {
			t.Errorf("error = %T, want *InsufficientSpaceError", err)
		}
	})
}

func TestGetAvailableSpace(t *testing.T) {
	if GetAvailableSpace(filepath.Join(t.TempDir(), "x")) == 0 {
		t.Error("GetAvailableSpace() = 0 for a temp dir")
	}
}

func TestIsInsufficientSpaceError(t *testing.T) {
	err := &InsufficientSpaceError{Path: "/tmp/test.txt", RequiredBytes: 1000, AvailableBytes: 500}
	if !IsInsufficientSpaceError(err) {
		t.Error("IsInsufficientSpaceError(direct) = false")
	}
	if !IsInsufficientSpaceError(fmt.Errorf("copy: %w", err)) {
		t.Error("IsInsufficientSpaceError(wrapped) = false")
	}
	if IsInsufficientSpaceError(fmt.Errorf("other")) || IsInsufficientSpaceError(nil) {
		t.Error("IsInsufficientSpaceError() = true for unrelated error")
	}
}

func TestInsufficientSpaceErrorMessage(t *testing.T) {
	err := &InsufficientSpaceError{
		Path:           "/tmp/test.txt",
		RequiredBytes:  1024 * 1024 * 100,
		AvailableBytes: 1024 * 1024 * 50,
	}
	msg := err.Error()
	for _, want := range []string{"/tmp/test.txt", "100.00", "50.00"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestUsage(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "sub"), 0755)
	os.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0644)
	os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 5), 0644)
	os.Symlink(filepath.Join(dir, "a"), filepath.Join(dir, "link"))

	got, err := Usage(dir)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if got != 15 {
		t.Errorf("Usage() = %d, want 15", got)
	}
}
