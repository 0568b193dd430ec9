package assistant

import (
	"context"
	"database/sql"
	"errors"
	"io"

	"go.uber.org/zap"

	"videosummarizer/internal/metrics"
	"videosummarizer/internal/models"
	"videosummarizer/internal/redis"
	"videosummarizer/internal/service/ai"
	"videosummarizer/internal/service/video"
)

// TempFiles persists request uploads to local disk.
type TempFiles interface {
	Persist(r io.Reader) (string, error)
	PersistAs(r io.Reader, suffix string) (string, error)
	Release(path string) error
}

// VideoBridge turns a local video into a ready remote handle.
type VideoBridge interface {
	MakeReady(ctx context.Context, localPath string, opts video.Options) (*models.RemoteFile, error)
	Discard(ctx context.Context, file *models.RemoteFile)
}

// AgentSource hands out the shared agent.
type AgentSource interface {
	Agent() *ai.Agent
}

// Deps wires the service.
type Deps struct {
	DB      *sql.DB
	Cache   *redis.Client // optional
	Files   TempFiles
	Bridge  VideoBridge
	Agents  AgentSource
	Metrics *metrics.Collector // optional
	Logger  *zap.Logger

	MaxUploadBytes    int64
	DeleteRemoteFiles bool
}

// Service handles sessions, run records and the summarize flow.
type Service struct {
	db      *sql.DB
	cache   *sessionCache
	files   TempFiles
	bridge  VideoBridge
	agents  AgentSource
	notes   *notesReader
	metrics *metrics.Collector
	logger  *zap.Logger

	maxUploadBytes    int64
	deleteRemoteFiles bool
}

// NewService builds a new assistant service.
func NewService(d Deps) (*Service, error) {
	if d.DB == nil {
		return nil, errors.New("database required")
	}
	if d.Files == nil || d.Bridge == nil || d.Agents == nil {
		return nil, errors.New("temp files, video bridge and agent source are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notes, err := newNotesReader(context.Background())
	if err != nil {
		return nil, err
	}
	return &Service{
		db:                d.DB,
		cache:             newSessionCache(d.Cache, logger),
		files:             d.Files,
		bridge:            d.Bridge,
		agents:            d.Agents,
		notes:             notes,
		metrics:           d.Metrics,
		logger:            logger.With(zap.String("component", "assistant")),
		maxUploadBytes:    d.MaxUploadBytes,
		deleteRemoteFiles: d.DeleteRemoteFiles,
	}, nil
}
