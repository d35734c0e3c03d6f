package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveLink(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	restart := filepath.Join(dir, "restart.nc")
	os.WriteFile(restart, []byte("data"), 0644)

	hop1 := filepath.Join(dir, "hop1")
	hop2 := filepath.Join(dir, "sub", "hop2")
	os.MkdirAll(filepath.Dir(hop2), 0755)
	os.Symlink(restart, hop1)
	os.Symlink("../hop1", hop2)

	self := filepath.Join(dir, "self")
	os.Symlink("self", self)

	loopA := filepath.Join(dir, "loopA")
	loopB := filepath.Join(dir, "loopB")
	os.Symlink(loopB, loopA)
	os.Symlink(loopA, loopB)

	dangling := filepath.Join(dir, "dangling")
	os.Symlink(filepath.Join(dir, "gone"), dangling)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"plain file", restart, restart},
		{"one hop", hop1, restart},
		{"relative chain", hop2, restart},
		{"self reference passes through", self, self},
		{"loop passes through", loopA, loopA},
		{"dangling resolves to target", dangling, filepath.Join(dir, "gone")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLink(tt.path)
			if err != nil {
				t.Fatalf("ResolveLink() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveLink(%s) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}

	if _, err := ResolveLink(filepath.Join(dir, "missing")); err == nil {
		t.Error("ResolveLink(missing) expected error")
	}
}

func TestResolveAbsolutePath(t *testing.T) {
	dir, _ := filepath.EvalSymlinks(t.TempDir())
	link := filepath.Join(dir, "link")
	os.Symlink(dir, link)

	got, err := ResolveAbsolutePath(filepath.Join(link, "new", "child"))
	if err != nil {
		t.Fatalf("ResolveAbsolutePath() error = %v", err)
	}
	if want := filepath.Join(dir, "new", "child"); got != want {
		t.Errorf("ResolveAbsolutePath() = %s, want %s", got, want)
	}
}
