package video

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"videosummarizer/internal/config"
	"videosummarizer/internal/metrics"
	"videosummarizer/internal/models"
)

var (
	// ErrRemoteFileFailed means the provider gave up processing the file.
	ErrRemoteFileFailed = errors.New("remote file processing failed")
	// ErrProcessingTimeout means the file was still pending when the poll budget ran out.
	ErrProcessingTimeout = errors.New("timed out waiting for remote file processing")
)

// UploadError wraps a failed upload. Its message is the provider's, unchanged.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string { return e.Err.Error() }
func (e *UploadError) Unwrap() error { return e.Err }

// AllowedExtensions are the video containers accepted for analysis.
var AllowedExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}

// IsAllowedExtension reports whether name ends in one of AllowedExtensions.
func IsAllowedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// MIMEType guesses the video type from the file name, defaulting to video/mp4.
func MIMEType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	}
	if m := mime.TypeByExtension(ext); strings.HasPrefix(m, "video/") {
		return strings.SplitN(m, ";", 2)[0]
	}
	return "video/mp4"
}

// Options tune one MakeReady call.
type Options struct {
	MIMEType    string
	DisplayName string
	// Progress is called after every status lookup.
	Progress func(attempt int, state models.FileState)
}

// Bridge uploads a local video and waits until the provider can use it.
type Bridge struct {
	store    FileStore
	poll     config.PollConfig
	maxPolls int
	maxWait  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector

	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error
}

func NewBridge(store FileStore, poll config.PollConfig, logger *zap.Logger, m *metrics.Collector) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		store:    store,
		poll:     poll,
		maxPolls: poll.MaxPolls,
		maxWait:  poll.MaxWait(),
		logger:   logger.With(zap.String("component", "video_bridge")),
		metrics:  m,
		wait:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Bridge) schedule() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.poll.InitialInterval()
	eb.MaxInterval = b.poll.MaxInterval()
	eb.Multiplier = b.poll.Multiplier
	eb.RandomizationFactor = 0
	eb.Reset()
	return eb
}

// MakeReady uploads localPath once, then alternates one wait and one status
// lookup while the file is pending. It returns the handle once it is ACTIVE.
func (b *Bridge) MakeReady(ctx context.Context, localPath string, opts Options) (*models.RemoteFile, error) {
	mimeType := opts.MIMEType
	if mimeType == "" {
		mimeType = MIMEType(localPath)
	}
	displayName := opts.DisplayName
	if displayName == "" {
		displayName = filepath.Base(localPath)
	}

	file, err := b.store.Upload(ctx, localPath, mimeType, displayName)
	if err != nil {
		return nil, &UploadError{Err: err}
	}
	if file == nil {
		return nil, &UploadError{Err: errors.New("upload returned no file handle")}
	}
	b.logger.Info("video uploaded", zap.String("remote_name", file.Name), zap.String("state", string(file.State)))

	pollCtx := ctx
	if b.maxWait > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, b.maxWait)
		defer cancel()
	}

	sched := b.schedule()
	for attempt := 1; file.State.Pending(); attempt++ {
		if b.maxPolls > 0 && attempt > b.maxPolls {
			return nil, fmt.Errorf("%w: %s still %s after %d lookups", ErrProcessingTimeout, file.Name, file.State, b.maxPolls)
		}
		d := sched.NextBackOff()
		if d <= 0 {
			d = b.poll.MaxInterval()
		}
		if err := b.wait(pollCtx, d); err != nil {
			return nil, b.interrupted(ctx, file)
		}

		next, err := b.store.Get(pollCtx, file.Name)
		if err != nil {
			if pollCtx.Err() != nil {
				return nil, b.interrupted(ctx, file)
			}
			return nil, fmt.Errorf("get file %s: %w", file.Name, err)
		}
		if next == nil {
			return nil, fmt.Errorf("get file %s: empty response", file.Name)
		}
		file = next
		b.metrics.RecordPoll()
		b.logger.Debug("file status", zap.String("remote_name", file.Name), zap.Int("attempt", attempt), zap.String("state", string(file.State)))
		if opts.Progress != nil {
			opts.Progress(attempt, file.State)
		}
	}

	switch file.State {
	case models.FileStateActive:
		return file, nil
	case models.FileStateFailed:
		reason := file.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return nil, fmt.Errorf("%w: %s", ErrRemoteFileFailed, reason)
	default:
		return nil, fmt.Errorf("%w: unexpected state %s", ErrRemoteFileFailed, file.State)
	}
}

// interrupted reports why the poll loop stopped early: the caller's own
// cancellation wins over the poll deadline.
func (b *Bridge) interrupted(ctx context.Context, file *models.RemoteFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s still %s after %s", ErrProcessingTimeout, file.Name, file.State, b.maxWait)
}

// Discard deletes the remote copy. Failures are logged only.
func (b *Bridge) Discard(ctx context.Context, file *models.RemoteFile) {
	if file == nil || file.Name == "" {
		return
	}
	if err := b.store.Delete(ctx, file.Name); err != nil {
		b.logger.Warn("delete remote file", zap.String("remote_name", file.Name), zap.Error(err))
	}
}
