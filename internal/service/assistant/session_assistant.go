package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"videosummarizer/internal/models"
	"videosummarizer/internal/service/video"
)

// CreateSession starts a session waiting for a video.
func (s *Service) CreateSession(ctx context.Context) (*models.Session, error) {
	now := time.Now().UTC()
	se := &models.Session{
		ID:        uuid.NewString(),
		State:     models.StateAwaitingUpload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, state, file_name, file_size, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		se.ID, se.State, se.FileName, se.FileSize, se.CreatedAt, se.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.cache.store(ctx, se)
	return se, nil
}

// GetSession returns a session from cache or storage.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, ErrSessionNotFound
	}
	if se, ok := s.cache.load(ctx, sessionID); ok {
		return se, nil
	}

	var se models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, state, file_name, file_size, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&se.ID, &se.State, &se.FileName, &se.FileSize, &se.CreatedAt, &se.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.cache.store(ctx, &se)
	return &se, nil
}

// SelectVideo records the chosen video and moves the session to
// awaiting_submission. A later selection replaces the earlier one.
func (s *Service) SelectVideo(ctx context.Context, sessionID, fileName string, size int64) (*models.Session, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, newError(KindInvalidInput, ErrNoVideo)
	}
	if err := s.validateVideo(fileName, size); err != nil {
		return nil, err
	}
	se, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, file_name = ?, file_size = ?, updated_at = ? WHERE id = ?`,
		models.StateAwaitingSubmission, fileName, size, now, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select video: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		s.cache.invalidate(ctx, sessionID)
		return nil, ErrSessionNotFound
	}

	se.State = models.StateAwaitingSubmission
	se.FileName = fileName
	se.FileSize = size
	se.UpdatedAt = now
	s.cache.store(ctx, se)
	return se, nil
}

func (s *Service) validateVideo(fileName string, size int64) error {
	if !video.IsAllowedExtension(fileName) {
		return newError(KindInvalidInput, ErrUnsupportedVideo)
	}
	if size < 0 {
		return newError(KindInvalidInput, fmt.Errorf("invalid video size %d", size))
	}
	if s.maxUploadBytes > 0 && size > s.maxUploadBytes {
		return newError(KindInvalidInput, fmt.Errorf("%w (%d MB)", ErrVideoTooLarge, s.maxUploadBytes>>20))
	}
	return nil
}
