package tempfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// VideoSuffix is appended to every persisted upload regardless of its container.
	VideoSuffix = ".mp4"
	filePrefix  = "video-"

	// subdir of os.TempDir used when no dir is configured
	defaultSubdir = "videosummarizer"

	DefaultTTL           = time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// suffixes this manager creates; Sweep ignores anything else
var ownedSuffixes = []string{VideoSuffix, ".txt", ".md", ".srt", ".vtt"}

// Manager owns the local copies of uploads for the duration of one request.
type Manager struct {
	dir    string
	logger *zap.Logger
}

// NewManager uses dir for temporary files, or a private directory under the
// system temp dir when empty.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), defaultSubdir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dir: dir, logger: logger.With(zap.String("component", "tempfile"))}, nil
}

func (m *Manager) Dir() string {
	return m.dir
}

// Persist writes r to a new uniquely named file and returns its path.
func (m *Manager) Persist(r io.Reader) (string, error) {
	return m.persist(r, VideoSuffix)
}

// PersistAs is Persist with a caller chosen suffix, used for companion files.
func (m *Manager) PersistAs(r io.Reader, suffix string) (string, error) {
	if suffix == "" {
		suffix = VideoSuffix
	}
	if !owned(filePrefix + suffix) {
		return "", fmt.Errorf("unsupported temp file suffix %q", suffix)
	}
	return m.persist(r, suffix)
}

func (m *Manager) persist(r io.Reader, suffix string) (string, error) {
	f, err := os.CreateTemp(m.dir, filePrefix+"*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}

// Release removes the file at path. A file that is already gone is not an error.
func (m *Manager) Release(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp file: %w", err)
	}
	return nil
}

// StartSweeper periodically removes files of this manager older than ttl.
// Those are left over by a process that exited mid request.
func (m *Manager) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	go m.sweepLoop(ctx, interval, ttl)
}

func (m *Manager) sweepLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := m.Sweep(time.Now().Add(-ttl)); err != nil {
				m.logger.Warn("sweep temp files", zap.Error(err))
			} else if n > 0 {
				m.logger.Info("removed stale temp files", zap.Int("count", n))
			}
		}
	}
}

// Sweep deletes this manager's files last modified before cutoff.
func (m *Manager) Sweep(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !owned(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		if err := m.Release(path); err != nil {
			m.logger.Warn("remove stale temp file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func owned(name string) bool {
	if !strings.HasPrefix(name, filePrefix) {
		return false
	}
	for _, suffix := range ownedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
