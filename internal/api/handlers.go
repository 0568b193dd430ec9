package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"videosummarizer/internal/metrics"
	"videosummarizer/internal/models"
	"videosummarizer/internal/service/assistant"
	"videosummarizer/internal/worker"
)

// Assistant is the part of the assistant service the handlers use.
type Assistant interface {
	CreateSession(ctx context.Context) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	SelectVideo(ctx context.Context, sessionID, fileName string, size int64) (*models.Session, error)
	ListRuns(ctx context.Context, sessionID string) ([]models.Run, error)
	Validate(req assistant.SummarizeRequest) error
	Summarize(ctx context.Context, req assistant.SummarizeRequest) (*assistant.Result, error)
}

// JobRunner schedules summarize jobs per session.
type JobRunner interface {
	Submit(sessionID string, fn func()) (<-chan error, error)
	// Cancel drops the job behind result if no worker has taken it yet.
	Cancel(sessionID string, result <-chan error) bool
}

type HandlerConfig struct {
	MaxUploadBytes int64
	SubmitRPS      float64
	SubmitBurst    int
}

// multipart overhead allowed on top of the video itself
const formSlack = 8 << 20

// Handler wires HTTP endpoints to the assistant service.
type Handler struct {
	assistant Assistant
	jobs      JobRunner
	metrics   *metrics.Collector
	limiter   *sessionLimiter
	logger    *zap.Logger

	maxUploadBytes int64
}

// NewHandler constructs a Handler. ctx bounds the limiter janitor.
func NewHandler(ctx context.Context, svc Assistant, jobs JobRunner, m *metrics.Collector, logger *zap.Logger, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 1
	}
	return &Handler{
		assistant:      svc,
		jobs:           jobs,
		metrics:        m,
		limiter:        newSessionLimiter(ctx, cfg.SubmitRPS, cfg.SubmitBurst),
		logger:         logger.With(zap.String("component", "api")),
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// RegisterRoutes attaches handlers to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.index)
	router.GET("/healthz", h.healthz)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	api := router.Group("/api")
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.POST("/sessions/:id/video", h.selectVideo)
	api.POST("/sessions/:id/summarize", h.summarize)
	api.GET("/sessions/:id/runs", h.listRuns)
}

type selectVideoRequest struct {
	FileName string `json:"file_name" binding:"required"`
	Size     int64  `json:"size"`
}

func (h *Handler) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createSession(c *gin.Context) {
	se, err := h.assistant.CreateSession(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, se)
}

func (h *Handler) getSession(c *gin.Context) {
	se, err := h.assistant.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, se)
}

func (h *Handler) selectVideo(c *gin.Context) {
	var req selectVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	se, err := h.assistant.SelectVideo(c.Request.Context(), c.Param("id"), req.FileName, req.Size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, se)
}

func (h *Handler) listRuns(c *gin.Context) {
	runs, err := h.assistant.ListRuns(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *Handler) summarize(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.assistant.GetSession(c.Request.Context(), sessionID); err != nil {
		h.writeError(c, err)
		return
	}
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+formSlack)
	}
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": assistant.ErrVideoTooLarge.Error(),
				"kind":  assistant.KindInvalidInput,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	if c.Request.MultipartForm != nil {
		defer c.Request.MultipartForm.RemoveAll()
	}

	req := assistant.SummarizeRequest{
		SessionID: sessionID,
		Query:     c.PostForm("query"),
	}
	videoFile, videoName, videoSize, err := formFile(c, "video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if videoFile != nil {
		defer videoFile.Close()
		req.Video, req.FileName, req.FileSize = videoFile, videoName, videoSize
	}
	notesFile, notesName, _, err := formFile(c, "notes")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if notesFile != nil {
		defer notesFile.Close()
		req.Notes, req.NotesName = notesFile, notesName
	}

	if err := h.assistant.Validate(req); err != nil {
		h.writeError(c, err)
		return
	}
	if !h.limiter.Allow(sessionID) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "too many requests for this session, please wait",
			"kind":  assistant.KindBusy,
		})
		return
	}
	if _, err := h.assistant.SelectVideo(c.Request.Context(), sessionID, req.FileName, req.FileSize); err != nil {
		h.writeError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	statuses := make(chan assistant.Status, 32)
	req.OnStatus = func(st assistant.Status) {
		select {
		case statuses <- st:
		default:
		}
	}
	var (
		result *assistant.Result
		runErr error
	)
	ctx := c.Request.Context()
	done, err := h.jobs.Submit(sessionID, func() {
		result, runErr = h.assistant.Summarize(ctx, req)
	})
	if err != nil {
		h.writeError(c, dispatchError(err))
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// Write failures mean the client went away. The job still has to finish
	// before the request's form files are released, so keep draining.
	sendEvent := func(event string, payload interface{}) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return
		}
		flusher.Flush()
	}
	sendEvent("ack", gin.H{"session_id": sessionID, "file_name": req.FileName, "query": req.Query})

	var jobErr error
	gone := ctx.Done()
wait:
	for {
		select {
		case st := <-statuses:
			sendEvent("status", st)
		case <-gone:
			// a running job sees the canceled ctx itself
			gone = nil
			if h.jobs.Cancel(sessionID, done) {
				h.logger.Info("client left before the job started", zap.String("session_id", sessionID))
			}
		case jobErr = <-done:
			break wait
		}
	}
	for len(statuses) > 0 {
		sendEvent("status", <-statuses)
	}

	if jobErr != nil {
		runErr = dispatchError(jobErr)
	}
	if runErr != nil {
		h.logger.Info("summarize failed",
			zap.String("session_id", sessionID),
			zap.String("kind", string(assistant.KindOf(runErr))),
			zap.Error(runErr),
		)
		sendEvent("error", gin.H{"kind": assistant.KindOf(runErr), "message": assistant.UserMessage(runErr)})
		return
	}

	rendered, err := renderMarkdown(result.Content)
	if err != nil {
		h.logger.Warn("render markdown", zap.Error(err))
	}
	sendEvent("done", gin.H{
		"run_id":  result.RunID,
		"content": result.Content,
		"html":    rendered,
		"polls":   result.Polls,
	})
}

// formFile returns the named upload, or nil when the field is absent.
func formFile(c *gin.Context, field string) (multipart.File, string, int64, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, "", 0, nil
		}
		return nil, "", 0, fmt.Errorf("read %s upload: %w", field, err)
	}
	f, err := header.Open()
	if err != nil {
		return nil, "", 0, fmt.Errorf("open %s upload: %w", field, err)
	}
	return f, filepath.Base(header.Filename), header.Size, nil
}

func dispatchError(err error) error {
	switch {
	case errors.Is(err, worker.ErrDispatcherBusy):
		return &assistant.AnalysisError{Kind: assistant.KindBusy, Err: err}
	case errors.Is(err, worker.ErrDispatcherStopped), errors.Is(err, worker.ErrJobCanceled):
		return &assistant.AnalysisError{Kind: assistant.KindCanceled, Err: err}
	}
	var ae *assistant.AnalysisError
	if errors.As(err, &ae) {
		return err
	}
	return &assistant.AnalysisError{Kind: assistant.KindAgent, Err: err}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	kind := assistant.KindOf(err)
	switch {
	case errors.Is(err, assistant.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case kind == assistant.KindInvalidInput:
		status = http.StatusBadRequest
	case kind == assistant.KindBusy:
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": assistant.UserMessage(err), "kind": kind})
}
