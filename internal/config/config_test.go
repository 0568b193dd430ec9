package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingDefaultUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8501", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "video_summarizer", cfg.Agent.Name)
	assert.True(t, cfg.MarkdownEnabled())
	assert.Equal(t, 5*time.Second, cfg.Poll.InitialInterval())
	assert.Equal(t, 30*time.Second, cfg.Poll.MaxInterval())
	assert.Equal(t, int64(200<<20), cfg.MaxUploadBytes())
	assert.True(t, filepath.IsAbs(cfg.Databases["sqlite3"].DSN))
}

func TestLoadExplicitMissingFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadFileOverridesAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "max_workers": 2},
		"provider": {"model": "gemini-1.5-pro", "api_key": "from-file"},
		"poll": {"initial_interval_ms": 100, "max_polls": 3},
		"databases": {"sqlite3": {"dsn": "db/app.db"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, 2, cfg.BasicConfig.MaxWorkers)
	assert.Equal(t, "gemini-1.5-pro", cfg.Provider.Model)
	assert.Equal(t, 100*time.Millisecond, cfg.Poll.InitialInterval())
	assert.Equal(t, 3, cfg.Poll.MaxPolls)
	assert.Equal(t, filepath.Join(dir, "db/app.db"), cfg.Databases["sqlite3"].DSN)
}

func TestMarkdownDefaultIndependentOfName(t *testing.T) {
	dir := t.TempDir()

	named := filepath.Join(dir, "named.json")
	require.NoError(t, os.WriteFile(named, []byte(`{"agent": {"name": "clip_explainer"}}`), 0o600))
	cfg, err := Load(named)
	require.NoError(t, err)
	assert.Equal(t, "clip_explainer", cfg.Agent.Name)
	assert.True(t, cfg.MarkdownEnabled())

	plain := filepath.Join(dir, "plain.json")
	require.NoError(t, os.WriteFile(plain, []byte(`{"agent": {"markdown": false}}`), 0o600))
	cfg, err = Load(plain)
	require.NoError(t, err)
	assert.Equal(t, "video_summarizer", cfg.Agent.Name)
	assert.False(t, cfg.MarkdownEnabled())
}

func TestAPIKeyPrefersEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKey = "from-file"

	t.Setenv(cfg.Provider.APIKeyEnv, "")
	assert.Equal(t, "from-file", cfg.APIKey())

	t.Setenv(cfg.Provider.APIKeyEnv, " from-env ")
	assert.Equal(t, "from-env", cfg.APIKey())
}

func TestAPIKeyMayBeEmpty(t *testing.T) {
	cfg := Default()
	t.Setenv(cfg.Provider.APIKeyEnv, "")
	assert.Empty(t, cfg.APIKey())
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("VIDEOSUM_TEST_SECRET=abc\n"), 0o600))
	t.Setenv("VIDEOSUM_TEST_SECRET", "")
	require.NoError(t, os.Unsetenv("VIDEOSUM_TEST_SECRET"))
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "abc", os.Getenv("VIDEOSUM_TEST_SECRET"))
}
