package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type      string           `yaml:"type"`
	Qdrant    *QdrantConfig    `yaml:"qdrant,omitempty"`
	SQLiteVec *SQLiteVecConfig `yaml:"sqlitevec,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type SQLiteVecConfig struct {
	Path string `yaml:"path"`
}

// SummarizerConfig configures the corpus summary printed after indexing.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// RetrievalConfig tunes prompt assembly.
type RetrievalConfig struct {
	TopK              int     `yaml:"top_k"`
	DistanceThreshold float64 `yaml:"distance_threshold"`
	HistoryWindow     int     `yaml:"history_window"`
}

// StorageConfig locates the per-user record directory.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// RetentionConfig drives the background sweeper.
type RetentionConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	Interval     time.Duration `yaml:"interval"`
	PollTick     time.Duration `yaml:"poll_tick"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
}

type KeywordConfig struct {
	Filename string   `yaml:"filename"`
	Keywords []string `yaml:"keywords"`
}

// ImagesConfig points at the extraction metadata and optional keyword overrides.
type ImagesConfig struct {
	MetadataPath string          `yaml:"metadata_path"`
	URLPrefix    string          `yaml:"url_prefix"`
	Watch        bool            `yaml:"watch"`
	Keywords     []KeywordConfig `yaml:"keywords,omitempty"`
}

type FinalizerConfig struct {
	Mode string `yaml:"mode"`
}

// GeneratorConfig configures the OpenAI-compatible chat model.
type GeneratorConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	File   string `yaml:"file"`
}

// CorpusConfig lists the pre-extracted page text to index. Globs are allowed.
type CorpusConfig struct {
	Paths []string `yaml:"paths"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Storage     StorageConfig     `yaml:"storage"`
	Retention   RetentionConfig   `yaml:"retention"`
	Images      ImagesConfig      `yaml:"images"`
	Finalizer   FinalizerConfig   `yaml:"finalizer"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Corpus      CorpusConfig      `yaml:"corpus"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/endochat/config.yaml.
// If neither exists, it writes defaults to ~/.config/endochat/config.yaml and returns them.
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
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
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

// Validate reports every invalid setting at once.
func (c *AppConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Embedder.Type {
	case "tfidf":
	case "openai":
		if c.Embedder.OpenAI == nil || c.Embedder.OpenAI.APIKeyEnv == "" {
			add("embedder.openai.api_key_env is required")
		}
	default:
		add("embedder.type %q is not one of tfidf, openai", c.Embedder.Type)
	}

	if c.Chunker.SentencesPerChunk <= 0 {
		add("chunker.sentences_per_chunk must be positive")
	}
	if c.Chunker.OverlapSentences < 0 {
		add("chunker.overlap_sentences must not be negative")
	}

	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" || c.VectorStore.Qdrant.Collection == "" {
			add("vector_store.qdrant needs url and collection")
		}
	case "sqlitevec":
		if c.VectorStore.SQLiteVec == nil || c.VectorStore.SQLiteVec.Path == "" {
			add("vector_store.sqlitevec.path is required")
		}
	default:
		add("vector_store.type %q is not one of memory, qdrant, sqlitevec", c.VectorStore.Type)
	}

	if c.Retrieval.TopK <= 0 {
		add("retrieval.top_k must be positive")
	}
	if c.Retrieval.DistanceThreshold <= 0 {
		add("retrieval.distance_threshold must be positive")
	}
	if c.Retrieval.HistoryWindow < 0 {
		add("retrieval.history_window must not be negative")
	}

	if strings.TrimSpace(c.Storage.Dir) == "" {
		add("storage.dir is required")
	}

	if c.Retention.TTL <= 0 || c.Retention.Interval <= 0 || c.Retention.ErrorBackoff <= 0 {
		add("retention durations must be positive")
	}
	if c.Retention.PollTick <= 0 || c.Retention.PollTick > time.Minute {
		add("retention.poll_tick must be between 0 and 1m")
	}

	switch strings.ToLower(c.Finalizer.Mode) {
	case "attribute", "strip":
	default:
		add("finalizer.mode %q is not one of attribute, strip", c.Finalizer.Mode)
	}

	if c.Generator.Model == "" {
		add("generator.model is required")
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		add("generator.temperature must be within [0, 2]")
	}

	return errors.Join(errs...)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "endochat", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "tfidf"},
		Chunker:     ChunkerConfig{Type: "sentence", SentencesPerChunk: 5, OverlapSentences: 1},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Summarizer:  SummarizerConfig{Type: "frequency", MaxSentences: 5},
		Corpus:      CorpusConfig{Paths: []string{"data/text/*.jsonl", "data/text/*.txt"}},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "endochat"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.VectorStore.Type == "sqlitevec" {
		if cfg.VectorStore.SQLiteVec == nil {
			cfg.VectorStore.SQLiteVec = &SQLiteVecConfig{}
		}
		if cfg.VectorStore.SQLiteVec.Path == "" {
			cfg.VectorStore.SQLiteVec.Path = "data/index.db"
		}
	}

	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 5
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.DistanceThreshold == 0 {
		cfg.Retrieval.DistanceThreshold = 1.5
	}
	if cfg.Retrieval.HistoryWindow == 0 {
		cfg.Retrieval.HistoryWindow = 10
	}

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "conversations"
	}

	if cfg.Retention.TTL == 0 {
		cfg.Retention.TTL = 30 * 24 * time.Hour
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = time.Hour
	}
	if cfg.Retention.PollTick == 0 {
		cfg.Retention.PollTick = time.Minute
	}
	if cfg.Retention.ErrorBackoff == 0 {
		cfg.Retention.ErrorBackoff = time.Minute
	}

	if cfg.Images.MetadataPath == "" {
		cfg.Images.MetadataPath = "data/images/extraction_metadata.json"
	}
	if cfg.Images.URLPrefix == "" {
		cfg.Images.URLPrefix = "/static/images/"
	}

	if cfg.Finalizer.Mode == "" {
		cfg.Finalizer.Mode = "attribute"
	}

	if cfg.Generator.BaseURL == "" {
		cfg.Generator.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Generator.APIKeyEnv == "" {
		cfg.Generator.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = "gpt-4o-mini"
	}
	if cfg.Generator.TimeoutSecs == 0 {
		cfg.Generator.TimeoutSecs = 60
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
