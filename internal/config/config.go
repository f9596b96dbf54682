package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
)

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"`
}

// ChunkerConfig configures how documents are split into fragments.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// IndexConfig configures the retrieval engine.
type IndexConfig struct {
	MaxChunks         int `yaml:"max_chunks"`
	TopK              int `yaml:"top_k"`
	WatchIntervalSecs int `yaml:"watch_interval_secs"`
}

// S3Config contains connection details for the s3 snapshot store.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// SnapshotConfig selects and configures where index snapshots are persisted.
type SnapshotConfig struct {
	Type       string   `yaml:"type"`
	Dir        string   `yaml:"dir"`
	SQLitePath string   `yaml:"sqlite_path"`
	S3         S3Config `yaml:"s3"`
}

// CatalogConfig configures the document catalog database.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	MaxRawChars int    `yaml:"max_raw_chars"`
	MaxBytes    int64  `yaml:"max_bytes"`
	InboxDir    string `yaml:"inbox_dir"`
	DebounceMS  int    `yaml:"debounce_ms"`
}

// LLMConfig holds configuration for the OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	// RequestsPerSecond throttles calls to the endpoint; 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// AnswerConfig shapes answers and their citations.
type AnswerConfig struct {
	MaxSentences  int `yaml:"max_sentences"`
	Citations     int `yaml:"citations"`
	EvidenceChars int `yaml:"evidence_chars"`
}

// ScheduleConfig configures background jobs.
type ScheduleConfig struct {
	ReindexCron string `yaml:"reindex_cron"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	DataDir  string         `yaml:"data_dir"`
	Log      LogConfig      `yaml:"log"`
	Chunker  ChunkerConfig  `yaml:"chunker"`
	Index    IndexConfig    `yaml:"index"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Ingest   IngestConfig   `yaml:"ingest"`
	LLM      LLMConfig      `yaml:"llm"`
	Answer   AnswerConfig   `yaml:"answer"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, Default()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports settings the application cannot run with.
func (c *AppConfig) Validate() error {
	if c.Chunker.Size <= 0 {
		return fmt.Errorf("%w: chunker.size must be positive", domain.ErrConfiguration)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("%w: chunker.overlap must be in [0, chunker.size)", domain.ErrConfiguration)
	}
	if c.Index.MaxChunks <= 0 {
		return fmt.Errorf("%w: index.max_chunks must be positive", domain.ErrConfiguration)
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("%w: index.top_k must be positive", domain.ErrConfiguration)
	}
	if c.Ingest.MaxRawChars <= 0 {
		return fmt.Errorf("%w: ingest.max_raw_chars must be positive", domain.ErrConfiguration)
	}
	switch c.Snapshot.Type {
	case "fs", "sqlite":
	case "s3":
		if c.Snapshot.S3.Bucket == "" {
			return fmt.Errorf("%w: snapshot.s3.bucket is required for s3 store", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: snapshot.type must be fs, sqlite or s3", domain.ErrConfiguration)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		DataDir: "./data",
		Log:     LogConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 14, Console: true},
		Chunker: ChunkerConfig{Size: 700, Overlap: 100},
		Index:   IndexConfig{MaxChunks: 20000, TopK: 5, WatchIntervalSecs: 5},
		Snapshot: SnapshotConfig{
			Type: "fs",
			S3:   S3Config{Region: "us-east-1", AccessKeyEnv: "AWS_ACCESS_KEY_ID", SecretKeyEnv: "AWS_SECRET_ACCESS_KEY"},
		},
		Ingest: IngestConfig{MaxRawChars: 2000000, MaxBytes: 50 << 20, DebounceMS: 500},
		LLM: LLMConfig{
			BaseURL:           "https://api.groq.com/openai/v1",
			APIKeyEnv:         "GROQ_API_KEY",
			Model:             "llama-3.1-70b-versatile",
			TimeoutSecs:       30,
			RequestsPerSecond: 0.5,
		},
		Answer: AnswerConfig{MaxSentences: 5, Citations: 3, EvidenceChars: 200},
	}
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func applyEnv(cfg *AppConfig) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"CHUNK_SIZE", &cfg.Chunker.Size},
		{"CHUNK_OVERLAP", &cfg.Chunker.Overlap},
		{"MAX_CHUNKS", &cfg.Index.MaxChunks},
		{"MAX_TOP_CHUNKS", &cfg.Index.TopK},
		{"MAX_RAW_CHARS", &cfg.Ingest.MaxRawChars},
	}
	for _, e := range ints {
		raw, ok := os.LookupEnv(e.name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", domain.ErrConfiguration, e.name, raw)
		}
		*e.dst = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DOCQA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LLM_API_KEY_ENV"); v != "" {
		cfg.LLM.APIKeyEnv = v
	}
	return nil
}

// applyConfigDefaults fills in paths derived from the data directory and
// values a partial config file left empty.
func applyConfigDefaults(cfg *AppConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Snapshot.Type == "" {
		cfg.Snapshot.Type = "fs"
	}
	cfg.Snapshot.Type = strings.ToLower(strings.TrimSpace(cfg.Snapshot.Type))
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = filepath.Join(cfg.DataDir, "index")
	}
	if cfg.Snapshot.SQLitePath == "" {
		cfg.Snapshot.SQLitePath = filepath.Join(cfg.DataDir, "index.db")
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = filepath.Join(cfg.DataDir, "docqa.db")
	}
	if cfg.Ingest.InboxDir == "" {
		cfg.Ingest.InboxDir = filepath.Join(cfg.DataDir, "inbox")
	}
	if cfg.Ingest.DebounceMS <= 0 {
		cfg.Ingest.DebounceMS = 500
	}
	if cfg.Index.WatchIntervalSecs <= 0 {
		cfg.Index.WatchIntervalSecs = 5
	}
	if cfg.LLM.TimeoutSecs <= 0 {
		cfg.LLM.TimeoutSecs = 30
	}
	if cfg.Answer.Citations <= 0 {
		cfg.Answer.Citations = 3
	}
	if cfg.Answer.EvidenceChars <= 0 {
		cfg.Answer.EvidenceChars = 200
	}
	if cfg.Answer.MaxSentences <= 0 {
		cfg.Answer.MaxSentences = 5
	}
}
