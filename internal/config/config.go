package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultConfigFile = "config.json"
	defaultAPIKeyEnv  = "GOOGLE_API_KEY"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Provider    ProviderConfig            `json:"provider"`
	Agent       AgentConfig               `json:"agent"`
	Poll        PollConfig                `json:"poll"`
	Search      SearchConfig              `json:"search"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	TempDir       string `json:"temp_dir"`
	// MaxUploadMB caps the size of a single video upload.
	MaxUploadMB       int64   `json:"max_upload_mb"`
	TempFileTTL       int     `json:"temp_file_ttl"`       // minutes
	TempCleanInterval int     `json:"temp_clean_interval"` // minutes
	MinWorkers        int     `json:"min_workers"`
	MaxWorkers        int     `json:"max_workers"`
	WorkerIdleTimeout int     `json:"worker_idle_timeout"` // minutes
	SessionTTL        int     `json:"session_ttl"`         // hours
	QueueSize         int     `json:"queue_size"`
	SubmitRPS         float64 `json:"submit_rps"`
	SubmitBurst       int     `json:"submit_burst"`
	LogLevel          string  `json:"log_level"`
	DevMode           bool    `json:"dev_mode"`
}

type ProviderConfig struct {
	APIKeyEnv string `json:"api_key_env"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	BaseURL   string `json:"base_url"`
}

type AgentConfig struct {
	Name              string `json:"name"`
	Markdown          *bool  `json:"markdown"`
	Instructions      string `json:"instructions"`
	DeleteRemoteFiles bool   `json:"delete_remote_files"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
}

type PollConfig struct {
	InitialIntervalMS int     `json:"initial_interval_ms"`
	MaxIntervalMS     int     `json:"max_interval_ms"`
	Multiplier        float64 `json:"multiplier"`
	MaxPolls          int     `json:"max_polls"`
	MaxWaitSeconds    int     `json:"max_wait_seconds"`
}

type SearchConfig struct {
	GoogleAPIKeyEnv   string `json:"google_api_key_env"`
	GoogleEngineIDEnv string `json:"google_engine_id_env"`
	DuckMaxResults    int    `json:"duck_max_results"`
	DuckTimeoutSec    int    `json:"duck_timeout_seconds"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadEnvFile applies a dotenv settings file to the process environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from the provided path (defaults to config.json).
// When no path is given and config.json does not exist, defaults are used.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.resolvePaths(filepath.Dir(absPath))
			return cfg, nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(absPath))
	return &cfg, nil
}

// APIKey returns the provider secret, preferring the environment.
// It performs no validation: an empty key surfaces later as a remote error.
func (c *Config) APIKey() string {
	if v := strings.TrimSpace(os.Getenv(c.Provider.APIKeyEnv)); v != "" {
		return v
	}
	return strings.TrimSpace(c.Provider.APIKey)
}

// GoogleSearchCredentials returns the Custom Search key and engine id, if configured.
func (c *Config) GoogleSearchCredentials() (string, string) {
	return strings.TrimSpace(os.Getenv(c.Search.GoogleAPIKeyEnv)),
		strings.TrimSpace(os.Getenv(c.Search.GoogleEngineIDEnv))
}

func (c *Config) MaxUploadBytes() int64 {
	return c.BasicConfig.MaxUploadMB << 20
}

func (c *Config) TempFileTTL() time.Duration {
	return time.Duration(c.BasicConfig.TempFileTTL) * time.Minute
}

func (c *Config) TempCleanInterval() time.Duration {
	return time.Duration(c.BasicConfig.TempCleanInterval) * time.Minute
}

func (c *Config) WorkerIdleTimeout() time.Duration {
	return time.Duration(c.BasicConfig.WorkerIdleTimeout) * time.Minute
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.BasicConfig.SessionTTL) * time.Hour
}

// MarkdownEnabled reports whether answers are formatted as Markdown. Unset means true.
func (c *Config) MarkdownEnabled() bool {
	return c.Agent.Markdown == nil || *c.Agent.Markdown
}

func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

func (p PollConfig) InitialInterval() time.Duration {
	return time.Duration(p.InitialIntervalMS) * time.Millisecond
}

func (p PollConfig) MaxInterval() time.Duration {
	return time.Duration(p.MaxIntervalMS) * time.Millisecond
}

func (p PollConfig) MaxWait() time.Duration {
	return time.Duration(p.MaxWaitSeconds) * time.Second
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8501"
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 200
	}
	if b.TempFileTTL <= 0 {
		b.TempFileTTL = 60
	}
	if b.TempCleanInterval <= 0 {
		b.TempCleanInterval = 10
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 1
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 4
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 5
	}
	if b.SessionTTL <= 0 {
		b.SessionTTL = 24
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 16
	}
	if b.SubmitRPS <= 0 {
		b.SubmitRPS = 0.2
	}
	if b.SubmitBurst <= 0 {
		b.SubmitBurst = 2
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}

	if c.Provider.APIKeyEnv == "" {
		c.Provider.APIKeyEnv = defaultAPIKeyEnv
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gemini-2.0-flash"
	}

	if c.Agent.Name == "" {
		c.Agent.Name = "video_summarizer"
	}
	if c.Agent.Markdown == nil {
		markdown := true
		c.Agent.Markdown = &markdown
	}
	if c.Agent.TimeoutSeconds <= 0 {
		c.Agent.TimeoutSeconds = 300
	}

	p := &c.Poll
	if p.InitialIntervalMS <= 0 {
		p.InitialIntervalMS = 5000
	}
	if p.MaxIntervalMS < p.InitialIntervalMS {
		p.MaxIntervalMS = 30000
		if p.MaxIntervalMS < p.InitialIntervalMS {
			p.MaxIntervalMS = p.InitialIntervalMS
		}
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1.5
	}
	if p.MaxPolls <= 0 {
		p.MaxPolls = 120
	}
	if p.MaxWaitSeconds <= 0 {
		p.MaxWaitSeconds = 900
	}

	s := &c.Search
	if s.GoogleAPIKeyEnv == "" {
		s.GoogleAPIKeyEnv = "GOOGLE_SEARCH_API_KEY"
	}
	if s.GoogleEngineIDEnv == "" {
		s.GoogleEngineIDEnv = "GOOGLE_SEARCH_ENGINE_ID"
	}
	if s.DuckMaxResults <= 0 {
		s.DuckMaxResults = 3
	}
	if s.DuckTimeoutSec <= 0 {
		s.DuckTimeoutSec = 10
	}

	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "data/videosummarizer.db"}
	}
}

// resolvePaths makes relative sqlite paths relative to the config directory.
func (c *Config) resolvePaths(baseDir string) {
	dbCfg, ok := c.Databases["sqlite3"]
	if !ok || dbCfg.DSN == "" {
		return
	}
	if dbCfg.DSN == ":memory:" || strings.HasPrefix(dbCfg.DSN, "file:") || filepath.IsAbs(dbCfg.DSN) {
		return
	}
	dbCfg.DSN = filepath.Join(baseDir, dbCfg.DSN)
	c.Databases["sqlite3"] = dbCfg
}
