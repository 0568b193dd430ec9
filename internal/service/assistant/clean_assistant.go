package assistant

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"videosummarizer/internal/models"
)

const (
	DefaultSessionTTL      = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
	// runs still marked running after this long belong to a dead process
	staleRunAfter = 2 * time.Hour
)

// StartCleaner periodically closes orphaned runs and drops idle sessions.
func (s *Service) StartCleaner(ctx context.Context, interval, sessionTTL time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	go s.cleanupLoop(ctx, interval, sessionTTL)
}

func (s *Service) cleanupLoop(ctx context.Context, interval, sessionTTL time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanup(ctx, time.Now().UTC(), sessionTTL); err != nil {
				s.logger.Warn("cleanup sessions", zap.Error(err))
			}
		}
	}
}

func (s *Service) cleanup(ctx context.Context, now time.Time, sessionTTL time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET status = ?, error_kind = ?, finished_at = ?
		WHERE status = ? AND started_at <= ?`,
		models.RunFailed, "interrupted", now, models.RunRunning, now.Add(-staleRunAfter),
	)
	if err != nil {
		return fmt.Errorf("close stale runs: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("closed stale runs", zap.Int64("count", n))
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE updated_at <= ?`, now.Add(-sessionTTL))
	if err != nil {
		return fmt.Errorf("list idle sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list idle sessions: %w", err)
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("delete runs of %s: %w", id, err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
		s.cache.invalidate(ctx, id)
	}
	if len(ids) > 0 {
		s.logger.Info("removed idle sessions", zap.Int("count", len(ids)))
	}
	return nil
}
