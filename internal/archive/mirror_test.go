package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/http"
)

type fakeBackend struct {
	failures map[string][]error
	objects  map[string]string
	calls    map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failures: map[string][]error{}, objects: map[string]string{}, calls: map[string]int{}}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Put(_ context.Context, key string, body io.ReadSeeker, _ int64, wrap func(io.Reader) io.Reader) error {
	b.calls[key]++
	if errs := b.failures[key]; len(errs) > 0 {
		b.failures[key] = errs[1:]
		return errs[0]
	}
	data, err := io.ReadAll(wrap(body))
	if err != nil {
		return err
	}
	b.objects[key] = string(data)
	return nil
}

func fastRetry() http.Config {
	return http.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMirrorKey(t *testing.T) {
	root := filepath.Join("/data", "exp1")
	tests := []struct {
		name    string
		prefix  string
		file    string
		want    string
		wantErr bool
	}{
		{"no prefix", "", filepath.Join(root, "outdata", "fesom", "a.nc"), "exp1/outdata/fesom/a.nc", false},
		{"prefix trimmed", "/campaigns/", filepath.Join(root, "restart", "r.nc"), "campaigns/exp1/restart/r.nc", false},
		{"outside root", "", filepath.Join("/data", "other", "x"), "", true},
		{"root itself", "", root, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMirror(newFakeBackend(), tt.prefix, nil)
			got, err := m.Key("exp1", root, tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Key() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMirrorUploadWalksDirectoriesAndRetries(t *testing.T) {
	root := t.TempDir()
	single := filepath.Join(root, "outdata", "fesom", "temp.nc")
	writeFile(t, single, "temp")
	writeFile(t, filepath.Join(root, "unknown", "20000101-20001231", "core"), "dump")
	writeFile(t, filepath.Join(root, "unknown", "20000101-20001231", "sub", "x.txt"), "x")

	backend := newFakeBackend()
	backend.failures["exp/outdata/fesom/temp.nc"] = []error{errors.New("503 service unavailable")}
	m := NewMirror(backend, "", nil, WithRetry(fastRetry()))

	got, err := m.Upload(context.Background(), "exp", root, []string{single, filepath.Join(root, "unknown")})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Upload() = %d objects, want 3", len(got))
	}
	keys := make([]string, 0, len(backend.objects))
	for k := range backend.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{
		"exp/outdata/fesom/temp.nc",
		"exp/unknown/20000101-20001231/core",
		"exp/unknown/20000101-20001231/sub/x.txt",
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
	if backend.objects["exp/outdata/fesom/temp.nc"] != "temp" {
		t.Errorf("uploaded content = %q, want temp", backend.objects["exp/outdata/fesom/temp.nc"])
	}
	if c := backend.calls["exp/outdata/fesom/temp.nc"]; c != 2 {
		t.Errorf("Put calls = %d, want 2 (one retry)", c)
	}
}

func TestMirrorUploadContinuesPastFatalError(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	backend := newFakeBackend()
	backend.failures["exp/a"] = []error{errors.New("400 bad request")}
	m := NewMirror(backend, "", nil, WithRetry(fastRetry()))

	got, err := m.Upload(context.Background(), "exp", root, []string{a, b})
	if err == nil {
		t.Fatal("Upload() error = nil, want failure for a")
	}
	if len(got) != 1 || got[0].Key != "exp/b" {
		t.Errorf("Upload() = %+v, want only exp/b", got)
	}
	if backend.calls["exp/a"] != 1 {
		t.Errorf("fatal error retried %d times, want 1 call", backend.calls["exp/a"])
	}
}

func TestNilMirror(t *testing.T) {
	var m *Mirror
	got, err := m.Upload(context.Background(), "exp", "/", []string{"/x"})
	if got != nil || err != nil {
		t.Errorf("nil Upload() = %v, %v, want nil, nil", got, err)
	}
	if m.Backend() != "" {
		t.Errorf("nil Backend() = %q, want empty", m.Backend())
	}
}

func TestFromSettings(t *testing.T) {
	ctx := context.Background()
	m, err := FromSettings(ctx, config.ArchiveSettings{Backend: "none"}, config.ProxySettings{Mode: "no-proxy"}, nil)
	if m != nil || err != nil {
		t.Errorf("FromSettings(none) = %v, %v, want nil, nil", m, err)
	}
	if _, err := FromSettings(ctx, config.ArchiveSettings{Backend: "ftp"}, config.ProxySettings{}, nil); err == nil {
		t.Error("FromSettings(ftp) error = nil, want error")
	}
	_, err = FromSettings(ctx, config.ArchiveSettings{Backend: "s3"}, config.ProxySettings{Mode: "no-proxy"}, nil)
	if !errors.Is(err, config.ErrArchiveMissingBucket) {
		t.Errorf("FromSettings(s3 without bucket) error = %v, want ErrArchiveMissingBucket", err)
	}
	_, err = FromSettings(ctx, config.ArchiveSettings{Backend: "azure"}, config.ProxySettings{Mode: "no-proxy"}, nil)
	if !errors.Is(err, config.ErrArchiveMissingURL) {
		t.Errorf("FromSettings(azure without url) error = %v, want ErrArchiveMissingURL", err)
	}
}

func TestSplitContainerURL(t *testing.T) {
	service, container, err := splitContainerURL("https://acct.blob.core.windows.net/runs?sv=2022-11-02&sig=abc")
	if err != nil {
		t.Fatalf("splitContainerURL() error = %v", err)
	}
	if container != "runs" {
		t.Errorf("container = %q, want runs", container)
	}
	if want := "https://acct.blob.core.windows.net"; len(service) < len(want) || service[:len(want)] != want {
		t.Errorf("service = %q, want prefix %q", service, want)
	}
	if _, _, err := splitContainerURL("https://acct.blob.core.windows.net/"); err == nil {
		t.Error("splitContainerURL() without container error = nil, want error")
	}
}
