package assistant

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"videosummarizer/internal/models"
)

// startRun records a running analysis. Runs are only kept for known sessions;
// a failure to record never blocks the analysis.
func (s *Service) startRun(ctx context.Context, req SummarizeRequest) *models.Run {
	run := &models.Run{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if req.SessionID == "" {
		return run
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (id, session_id, file_name, file_size, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionID, run.FileName, run.FileSize, run.Status, run.StartedAt,
	)
	if err != nil {
		s.logger.Warn("record run start", zap.String("session_id", req.SessionID), zap.Error(err))
		run.SessionID = ""
	}
	return run
}

func (s *Service) finishRun(ctx context.Context, run *models.Run, err error) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = models.RunSucceeded
	if err != nil {
		run.Status = models.RunFailed
		run.ErrorKind = string(KindOf(err))
	}
	s.metrics.RecordRun(string(run.Status), run.ErrorKind, now.Sub(run.StartedAt))
	if run.SessionID == "" {
		return
	}
	_, dbErr := s.db.ExecContext(context.WithoutCancel(ctx),
		`UPDATE analysis_runs SET status = ?, error_kind = ?, remote_name = ?, polls = ?, finished_at = ? WHERE id = ?`,
		run.Status, run.ErrorKind, run.RemoteName, run.Polls, now, run.ID,
	)
	if dbErr != nil {
		s.logger.Warn("record run finish", zap.String("run_id", run.ID), zap.Error(dbErr))
	}
}

// ListRuns returns the session's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, sessionID string) ([]models.Run, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, file_name, file_size, remote_name, status, error_kind, polls, started_at, finished_at
		FROM analysis_runs WHERE session_id = ? ORDER BY started_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.Run, 0)
	for rows.Next() {
		var (
			r        models.Run
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.FileName, &r.FileSize, &r.RemoteName,
			&r.Status, &r.ErrorKind, &r.Polls, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
