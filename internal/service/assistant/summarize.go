package assistant

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"videosummarizer/internal/models"
	"videosummarizer/internal/service/ai"
	"videosummarizer/internal/service/video"
)

// Stage names a step of the summarize flow reported to observers.
type Stage string

const (
	StageSaving     Stage = "saving"
	StageUploading  Stage = "uploading"
	StageProcessing Stage = "processing"
	StageAnalyzing  Stage = "analyzing"
)

// Status is one progress notification.
type Status struct {
	Stage Stage            `json:"stage"`
	Polls int              `json:"polls,omitempty"`
	State models.FileState `json:"state,omitempty"`
}

type SummarizeRequest struct {
	SessionID string
	FileName  string
	FileSize  int64
	Video     io.Reader
	Query     string

	// optional companion text
	NotesName string
	Notes     io.Reader

	OnStatus func(Status)
}

type Result struct {
	RunID      string `json:"run_id"`
	Content    string `json:"content"`
	RemoteName string `json:"remote_name"`
	Polls      int    `json:"polls"`
}

// Validate checks the request before any work is scheduled.
func (s *Service) Validate(req SummarizeRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return newError(KindInvalidInput, ErrEmptyQuery)
	}
	if req.Video == nil || strings.TrimSpace(req.FileName) == "" {
		return newError(KindInvalidInput, ErrNoVideo)
	}
	if err := s.validateVideo(req.FileName, req.FileSize); err != nil {
		return err
	}
	if req.Notes != nil {
		if _, ok := notesSuffix(req.NotesName); !ok {
			return newError(KindInvalidInput, ErrUnsupportedNotes)
		}
	}
	return nil
}

// Summarize saves the video locally, hands it to the provider, waits until it
// is ready and asks the agent about it. The local copy is always removed.
func (s *Service) Summarize(ctx context.Context, req SummarizeRequest) (_ *Result, err error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	notify := req.OnStatus
	if notify == nil {
		notify = func(Status) {}
	}
	logger := s.logger.With(zap.String("session_id", req.SessionID), zap.String("file_name", req.FileName))

	run := s.startRun(ctx, req)
	defer func() {
		s.finishRun(ctx, run, err)
		if err != nil {
			logger.Warn("analysis failed", zap.String("kind", string(KindOf(err))), zap.Error(err))
		}
	}()

	notify(Status{Stage: StageSaving})
	path, err := s.files.Persist(req.Video)
	if err != nil {
		return nil, newError(KindTempFile, err)
	}
	defer s.release(logger, path)
	s.metrics.RecordUpload(req.FileSize)

	var notes string
	if req.Notes != nil {
		notes, err = s.readNotes(ctx, logger, req)
		if err != nil {
			return nil, err
		}
	}

	notify(Status{Stage: StageUploading})
	file, err := s.bridge.MakeReady(ctx, path, video.Options{
		MIMEType:    video.MIMEType(req.FileName),
		DisplayName: req.FileName,
		Progress: func(attempt int, state models.FileState) {
			run.Polls = attempt
			notify(Status{Stage: StageProcessing, Polls: attempt, State: state})
		},
	})
	if err != nil {
		return nil, classify(KindUpload, err)
	}
	run.RemoteName = file.Name
	if s.deleteRemoteFiles {
		defer s.bridge.Discard(context.WithoutCancel(ctx), file)
	}

	notify(Status{Stage: StageAnalyzing, Polls: run.Polls})
	prompt := ai.WithNotes(ai.BuildPrompt(req.Query), notes)
	out, err := s.agents.Agent().Run(ai.WithToolSession(ctx, req.SessionID), prompt, file)
	if err != nil {
		return nil, classify(KindAgent, err)
	}
	logger.Info("analysis finished", zap.String("run_id", run.ID), zap.Int("polls", run.Polls))
	return &Result{
		RunID:      run.ID,
		Content:    out.Content,
		RemoteName: file.Name,
		Polls:      run.Polls,
	}, nil
}

func (s *Service) readNotes(ctx context.Context, logger *zap.Logger, req SummarizeRequest) (string, error) {
	suffix, _ := notesSuffix(req.NotesName)
	path, err := s.files.PersistAs(req.Notes, suffix)
	if err != nil {
		return "", newError(KindTempFile, err)
	}
	defer s.release(logger, path)

	text, err := s.notes.read(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return "", classify(KindNotes, ctx.Err())
		}
		return "", newError(KindNotes, err)
	}
	if text == "" {
		return "", newError(KindNotes, errors.New("notes file has no readable text"))
	}
	return text, nil
}

func (s *Service) release(logger *zap.Logger, path string) {
	if err := s.files.Release(path); err != nil {
		logger.Error("release temp file", zap.String("path", path), zap.Error(err))
	}
}
