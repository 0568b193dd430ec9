package assistant

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videosummarizer/internal/config"
	"videosummarizer/internal/models"
	"videosummarizer/internal/redis"
	"videosummarizer/internal/service/ai"
	"videosummarizer/internal/service/tempfile"
	"videosummarizer/internal/service/video"
	"videosummarizer/internal/storage"
)

type fakeBridge struct {
	mu        sync.Mutex
	paths     []string
	existed   []bool
	opts      []video.Options
	polls     int
	file      *models.RemoteFile
	err       error
	discarded []string
}

func (b *fakeBridge) MakeReady(_ context.Context, path string, opts video.Options) (*models.RemoteFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, statErr := os.Stat(path)
	b.paths = append(b.paths, path)
	b.existed = append(b.existed, statErr == nil)
	b.opts = append(b.opts, opts)
	for i := 1; i <= b.polls; i++ {
		state := models.FileStateProcessing
		if i == b.polls {
			state = models.FileStateActive
		}
		if opts.Progress != nil {
			opts.Progress(i, state)
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.file, nil
}

func (b *fakeBridge) Discard(_ context.Context, file *models.RemoteFile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discarded = append(b.discarded, file.Name)
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls [][]*schema.Message
	reply string
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, input []*schema.Message, _ ...agent.AgentOption) (*schema.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, input)
	if g.err != nil {
		return nil, g.err
	}
	return schema.AssistantMessage(g.reply, nil), nil
}

func (g *fakeGenerator) userMessage(i int) *schema.Message {
	return g.calls[i][len(g.calls[i])-1]
}

type harness struct {
	svc     *Service
	db      *sql.DB
	tempDir string
	bridge  *fakeBridge
	gen     *fakeGenerator
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })
	return db
}

func newHarness(t *testing.T, cache *redis.Client) *harness {
	t.Helper()
	db := openTestDB(t)
	dir := t.TempDir()
	files, err := tempfile.NewManager(dir, nil)
	require.NoError(t, err)

	bridge := &fakeBridge{
		file: &models.RemoteFile{Name: "files/abc", URI: "https://files/abc", MIMEType: "video/mp4", State: models.FileStateActive},
	}
	gen := &fakeGenerator{reply: "## Summary\nA cat plays piano."}
	factory := ai.NewFactoryWithBuilder(ai.AgentConfig{
		Name:         "video_summarizer",
		Model:        "gemini-2.0-flash",
		Capabilities: []string{ai.CapabilityWebSearch},
		Markdown:     true,
	}, func(context.Context, ai.AgentConfig) (ai.Generator, error) { return gen, nil })

	svc, err := NewService(Deps{
		DB:             db,
		Cache:          cache,
		Files:          files,
		Bridge:         bridge,
		Agents:         factory,
		MaxUploadBytes: 10 << 20,
	})
	require.NoError(t, err)
	return &harness{svc: svc, db: db, tempDir: dir, bridge: bridge, gen: gen}
}

func (h *harness) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files left behind")
}

func videoRequest(sessionID, query string) SummarizeRequest {
	return SummarizeRequest{
		SessionID: sessionID,
		FileName:  "cat.mov",
		FileSize:  6,
		Video:     strings.NewReader("frames"),
		Query:     query,
	}
}

func TestSummarizeEmptyQueryMakesNoCalls(t *testing.T) {
	h := newHarness(t, nil)

	for _, q := range []string{"", "   \t\n"} {
		_, err := h.svc.Summarize(context.Background(), videoRequest("", q))
		require.Error(t, err)
		assert.Equal(t, KindInvalidInput, KindOf(err))
		assert.ErrorIs(t, err, ErrEmptyQuery)
		assert.Equal(t, "Please provide a query to summarize the video", UserMessage(err))
	}
	assert.Empty(t, h.bridge.paths)
	assert.Empty(t, h.gen.calls)
	h.assertNoTempFiles(t)
}

func TestSummarizeMissingVideo(t *testing.T) {
	h := newHarness(t, nil)
	req := videoRequest("", "what happens?")
	req.Video = nil

	_, err := h.svc.Summarize(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoVideo)
	assert.Equal(t, "Upload a video file to begin analysis", UserMessage(err))
	assert.Empty(t, h.bridge.paths)
}

func TestSummarizeSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.bridge.polls = 3
	se, err := h.svc.CreateSession(context.Background())
	require.NoError(t, err)

	var stages []Stage
	req := videoRequest(se.ID, "What instrument is played?")
	req.OnStatus = func(st Status) { stages = append(stages, st.Stage) }

	res, err := h.svc.Summarize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "## Summary\nA cat plays piano.", res.Content)
	assert.Equal(t, "files/abc", res.RemoteName)
	assert.Equal(t, 3, res.Polls)

	require.Len(t, h.bridge.paths, 1)
	assert.True(t, h.bridge.existed[0], "temp file must exist while uploading")
	assert.True(t, strings.HasSuffix(h.bridge.paths[0], tempfile.VideoSuffix))
	assert.Equal(t, "video/quicktime", h.bridge.opts[0].MIMEType)
	assert.Equal(t, "cat.mov", h.bridge.opts[0].DisplayName)

	require.Len(t, h.gen.calls, 1)
	user := h.gen.userMessage(0)
	require.Len(t, user.MultiContent, 2)
	assert.Contains(t, user.MultiContent[0].Text, "What instrument is played?")
	require.NotNil(t, user.MultiContent[1].VideoURL)
	assert.Equal(t, "https://files/abc", user.MultiContent[1].VideoURL.URI)

	assert.Equal(t, []Stage{StageSaving, StageUploading, StageProcessing, StageProcessing, StageProcessing, StageAnalyzing}, stages)
	assert.Empty(t, h.bridge.discarded)
	h.assertNoTempFiles(t)

	runs, err := h.svc.ListRuns(context.Background(), se.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunSucceeded, runs[0].Status)
	assert.Equal(t, "files/abc", runs[0].RemoteName)
	assert.Equal(t, 3, runs[0].Polls)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestSummarizeUploadFailureReleasesTempFile(t *testing.T) {
	h := newHarness(t, nil)
	h.bridge.err = &video.UploadError{Err: errors.New("permission denied")}
	se, err := h.svc.CreateSession(context.Background())
	require.NoError(t, err)

	_, err = h.svc.Summarize(context.Background(), videoRequest(se.ID, "summarize"))
	require.Error(t, err)
	assert.Equal(t, KindUpload, KindOf(err))
	assert.Equal(t, "An error occurred during analysis: permission denied", UserMessage(err))
	assert.Empty(t, h.gen.calls)
	h.assertNoTempFiles(t)

	runs, err := h.svc.ListRuns(context.Background(), se.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Equal(t, string(KindUpload), runs[0].ErrorKind)
}

func TestSummarizeClassifiesBridgeFailures(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{errors.Join(video.ErrRemoteFileFailed, errors.New("bad codec")), KindRemoteFailed},
		{video.ErrProcessingTimeout, KindTimeout},
		{context.Canceled, KindCanceled},
		{errors.New("get file files/abc: 500"), KindUpload},
	}
	for _, tc := range cases {
		h := newHarness(t, nil)
		h.bridge.err = tc.err
		_, err := h.svc.Summarize(context.Background(), videoRequest("", "q"))
		assert.Equal(t, tc.kind, KindOf(err), tc.err.Error())
		h.assertNoTempFiles(t)
	}
}

func TestSummarizeAgentFailureReleasesTempFile(t *testing.T) {
	h := newHarness(t, nil)
	h.gen.err = errors.New("model not found")

	_, err := h.svc.Summarize(context.Background(), videoRequest("", "q"))
	require.Error(t, err)
	assert.Equal(t, KindAgent, KindOf(err))
	assert.Contains(t, UserMessage(err), "An error occurred during analysis: ")
	assert.Contains(t, UserMessage(err), "model not found")
	h.assertNoTempFiles(t)
}

func TestSummarizeDeletesRemoteWhenConfigured(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.deleteRemoteFiles = true

	_, err := h.svc.Summarize(context.Background(), videoRequest("", "q"))
	require.NoError(t, err)
	assert.Equal(t, []string{"files/abc"}, h.bridge.discarded)
}

func TestSummarizeWithNotes(t *testing.T) {
	h := newHarness(t, nil)
	req := videoRequest("", "who speaks first?")
	req.NotesName = "talk.srt"
	req.Notes = strings.NewReader("1\n00:00:01,000 --> 00:00:02,000\nAda: hello\n")

	_, err := h.svc.Summarize(context.Background(), req)
	require.NoError(t, err)
	text := h.gen.userMessage(0).MultiContent[0].Text
	assert.Contains(t, text, "who speaks first?")
	assert.Contains(t, text, "Ada: hello")
	h.assertNoTempFiles(t)
}

func TestSummarizeRejectsBadNotes(t *testing.T) {
	h := newHarness(t, nil)

	req := videoRequest("", "q")
	req.NotesName = "slides.exe"
	req.Notes = strings.NewReader("x")
	_, err := h.svc.Summarize(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupportedNotes)

	req = videoRequest("", "q")
	req.NotesName = "empty.txt"
	req.Notes = strings.NewReader("   ")
	_, err = h.svc.Summarize(context.Background(), req)
	assert.Equal(t, KindNotes, KindOf(err))
	assert.Empty(t, h.bridge.paths)
	h.assertNoTempFiles(t)
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	se, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingUpload, se.State)

	_, err = h.svc.SelectVideo(ctx, se.ID, "notes.pdf", 10)
	assert.ErrorIs(t, err, ErrUnsupportedVideo)
	_, err = h.svc.SelectVideo(ctx, se.ID, "huge.mp4", 11<<20)
	assert.ErrorIs(t, err, ErrVideoTooLarge)

	se, err = h.svc.SelectVideo(ctx, se.ID, "first.mp4", 100)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingSubmission, se.State)

	se, err = h.svc.SelectVideo(ctx, se.ID, "second.webm", 200)
	require.NoError(t, err)

	got, err := h.svc.GetSession(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingSubmission, got.State)
	assert.Equal(t, "second.webm", got.FileName)
	assert.Equal(t, int64(200), got.FileSize)

	_, err = h.svc.GetSession(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.svc.GetSession(ctx, "7b0f7a8e-7c1e-4d7a-9a57-0c1f1d3b2a11")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.svc.ListRuns(ctx, "7b0f7a8e-7c1e-4d7a-9a57-0c1f1d3b2a11")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionCacheServesReads(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Redis = config.RedisConfig{Enabled: true, Host: mr.Host(), Port: port}
	client, err := redis.NewRedisClient(cfg)
	require.NoError(t, err)
	defer client.Close()

	h := newHarness(t, client)
	ctx := context.Background()

	se, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("session:"+se.ID))
	assert.Equal(t, sessionCacheTTL, mr.TTL("session:"+se.ID))

	_, err = h.db.Exec(`UPDATE sessions SET file_name = 'db-only.mp4' WHERE id = ?`, se.ID)
	require.NoError(t, err)
	got, err := h.svc.GetSession(ctx, se.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FileName, "read should be served from cache")

	mr.FastForward(sessionCacheTTL + time.Minute)
	got, err = h.svc.GetSession(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, "db-only.mp4", got.FileName)
}

func TestCleanupClosesStaleRunsAndDropsIdleSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	idle, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)
	active, err := h.svc.CreateSession(ctx)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err = h.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, old, idle.ID)
	require.NoError(t, err)
	_, err = h.db.Exec(`INSERT INTO analysis_runs (id, session_id, file_name, file_size, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"run-1", active.ID, "a.mp4", 1, models.RunRunning, time.Now().UTC().Add(-3*time.Hour))
	require.NoError(t, err)

	require.NoError(t, h.svc.cleanup(ctx, time.Now().UTC(), DefaultSessionTTL))

	_, err = h.svc.GetSession(ctx, idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	runs, err := h.svc.ListRuns(ctx, active.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Equal(t, "interrupted", runs[0].ErrorKind)
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "An error occurred during analysis: boom", UserMessage(errors.New("boom")))
	assert.Contains(t, UserMessage(&AnalysisError{Kind: KindBusy, Err: errors.New("full")}), "busy")
	assert.Equal(t, "Analysis was cancelled.", UserMessage(newError(KindCanceled, context.Canceled)))
	assert.Contains(t, UserMessage(newError(KindTimeout, video.ErrProcessingTimeout)), "took too long")
}
