// Package archive mirrors files of the persistent experiment tier to
// object storage (S3 or Azure Blob).
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/http"
	"github.com/rescale/simchain/internal/logging"
	"github.com/rescale/simchain/internal/progress"
)

const (
	BackendNone  = "none"
	BackendS3    = "s3"
	BackendAzure = "azure"
)

// Backend stores one object. body is positioned at the start of the file
// on every call; implementations may seek it.
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, wrap func(io.Reader) io.Reader) error
}

// Uploaded describes one mirrored object.
type Uploaded struct {
	LocalPath string
	Key       string
	Size      int64
}

// Mirror uploads files below an experiment directory, keyed by their
// path relative to it.
type Mirror struct {
	backend  Backend
	prefix   string
	retry    http.Config
	progress bool
	logger   *logging.Logger
}

// MirrorOption adjusts a Mirror.
type MirrorOption func(*Mirror)

// WithRetry overrides the retry parameters.
func WithRetry(cfg http.Config) MirrorOption {
	return func(m *Mirror) { m.retry = cfg }
}

// WithProgress enables per-file bars when stderr is a terminal.
func WithProgress(enabled bool) MirrorOption {
	return func(m *Mirror) { m.progress = enabled }
}

// NewMirror wraps a backend.
func NewMirror(backend Backend, prefix string, logger *logging.Logger, opts ...MirrorOption) *Mirror {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &Mirror{
		backend: backend,
		prefix:  strings.Trim(prefix, "/"),
		retry:   http.DefaultConfig(),
		logger:  logger.Named("archive"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FromSettings builds the configured mirror. It returns nil, nil when the
// backend is none.
func FromSettings(ctx context.Context, s config.ArchiveSettings, proxy config.ProxySettings, logger *logging.Logger, opts ...MirrorOption) (*Mirror, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(s.Backend) {
	case "", BackendNone:
		return nil, nil
	case BackendS3:
		backend, err = NewS3Backend(ctx, s, proxy)
	case BackendAzure:
		backend, err = NewAzureBackend(s, proxy)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", s.Backend)
	}
	if err != nil {
		return nil, err
	}
	if s.MaxRetries > 0 {
		cfg := http.DefaultConfig()
		cfg.MaxRetries = s.MaxRetries
		opts = append([]MirrorOption{WithRetry(cfg)}, opts...)
	}
	return NewMirror(backend, s.Prefix, logger, opts...), nil
}

// Backend returns the backend name, or "" on a nil mirror.
func (m *Mirror) Backend() string {
	if m == nil {
		return ""
	}
	return m.backend.Name()
}

// Key maps a file below root to its object key:
// <prefix>/<expid>/<path relative to root>.
func (m *Mirror) Key(expID, root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not inside %s", file, root)
	}
	parts := []string{expID, filepath.ToSlash(rel)}
	if m.prefix != "" {
		parts = append([]string{m.prefix}, parts...)
	}
	return path.Join(parts...), nil
}

// Upload mirrors files. Directories are walked. Every file is attempted;
// the returned error joins the failures.
func (m *Mirror) Upload(ctx context.Context, expID, root string, files []string) ([]Uploaded, error) {
	if m == nil || len(files) == 0 {
		return nil, nil
	}
	expanded, err := expandFiles(files)
	if err != nil {
		return nil, err
	}

	ui := progress.NewMirrorUI(len(expanded), m.progress)
	var (
		done []Uploaded
		errs []error
	)
	for _, file := range expanded {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		up, err := m.uploadOne(ctx, ui, expID, root, file)
		if err != nil {
			m.logger.Error().Err(err).Str("file", file).Msg("mirror failed")
			errs = append(errs, fmt.Errorf("%s: %w", file, err))
			continue
		}
		done = append(done, up)
	}
	ui.Wait()
	m.logger.Info().Int("uploaded", len(done)).Int("failed", len(errs)).Str("backend", m.backend.Name()).Msg("mirror finished")
	return done, errors.Join(errs...)
}

func (m *Mirror) uploadOne(ctx context.Context, ui *progress.MirrorUI, expID, root, file string) (Uploaded, error) {
	key, err := m.Key(expID, root, file)
	if err != nil {
		return Uploaded{}, err
	}
	f, err := os.Open(file)
	if err != nil {
		return Uploaded{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Uploaded{}, err
	}

	bar := ui.AddFileBar(file, key, info.Size())
	cfg := m.retry
	cfg.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		bar.SetRetry(attempt)
		m.logger.Warn().Err(err).Int("attempt", attempt).Str("class", http.ErrorTypeName(errType)).Str("key", key).Msg("retrying upload")
	}
	start := time.Now()
	err = http.ExecuteWithRetry(ctx, cfg, func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return m.backend.Put(ctx, key, f, info.Size(), bar.Reader)
	})
	bar.Complete(err)
	if err != nil {
		return Uploaded{}, err
	}
	m.logger.Debug().Str("key", key).Int64("bytes", info.Size()).Dur("took", time.Since(start)).Msg("mirrored")
	return Uploaded{LocalPath: file, Key: key, Size: info.Size()}, nil
}

func expandFiles(files []string) ([]string, error) {
	var out []string
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, f)
			continue
		}
		err = filepath.WalkDir(f, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				out = append(out, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
