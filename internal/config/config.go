package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"dtkrag/internal/chunker"
	"dtkrag/internal/domain"
)

const (
	DefaultQdrantURL        = "http://localhost:6333"
	DefaultCollection       = "dtk_ai_documents"
	DefaultThreshold        = 0.7
	DefaultSearchLimit      = 10
	DefaultScrollLimit      = 1000
	DefaultUploadDir        = "./uploads"
	DefaultCrawlDir         = "./crawled_data"
	DefaultSQLitePath       = "./dtkrag.db"
	DefaultOpenAIKeyEnv     = "OPENAI_API_KEY"
	DefaultGeminiKeyEnv     = "GOOGLE_GENERATIVE_AI_API_KEY"
	DefaultEmbedTimeoutSecs = 60
	DefaultStoreTimeoutSecs = 15
)

// OpenAIConfig holds configuration for the OpenAI embeddings provider.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key,omitempty"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GeminiConfig holds configuration for the Gemini embeddings provider.
type GeminiConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key,omitempty"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LocalConfig configures the offline hashing embedder.
type LocalConfig struct {
	Dimensions int `yaml:"dimensions"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`
	// Dimensions overrides the vector size for models missing from the built-in table.
	Dimensions int          `yaml:"dimensions,omitempty"`
	OpenAI     OpenAIConfig `yaml:"openai"`
	Gemini     GeminiConfig `yaml:"gemini"`
	Local      LocalConfig  `yaml:"local"`
}

// ChunkerConfig configures the fixed-window chunker.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key,omitempty"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// SQLiteConfig locates the local vector database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string       `yaml:"type"`
	Qdrant QdrantConfig `yaml:"qdrant"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// RetrievalConfig holds search defaults.
type RetrievalConfig struct {
	Threshold   float64 `yaml:"threshold"`
	Limit       int     `yaml:"limit"`
	ScrollLimit int     `yaml:"scroll_limit"`
}

// StorageConfig holds directories for uploaded and crawled copies.
type StorageConfig struct {
	UploadDir string `yaml:"upload_dir"`
	CrawlDir  string `yaml:"crawl_dir"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Mode string `yaml:"mode"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Storage     StorageConfig     `yaml:"storage"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied on top of the file.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	return cfg, cfg.Validate()
}

// LoadDefault tries ./config.yaml first, then ~/.config/dtkrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/dtkrag/config.yaml and returns them.
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
	if _, err := os.Stat(userPath); err != nil {
		if err := Save(userPath, Default()); err != nil {
			return nil, "", err
		}
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

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "dtkrag", "config.yaml"), nil
}

// Default returns the product defaults.
func Default() *AppConfig {
	return &AppConfig{
		Embedder: EmbedderConfig{
			Provider: "openai",
			OpenAI: OpenAIConfig{
				BaseURL:     "https://api.openai.com/v1",
				APIKeyEnv:   DefaultOpenAIKeyEnv,
				TimeoutSecs: DefaultEmbedTimeoutSecs,
			},
			Gemini: GeminiConfig{
				BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
				APIKeyEnv:   DefaultGeminiKeyEnv,
				TimeoutSecs: DefaultEmbedTimeoutSecs,
			},
			Local: LocalConfig{Dimensions: 512},
		},
		Chunker: ChunkerConfig{Size: chunker.DefaultChunkSize, Overlap: chunker.DefaultChunkOverlap},
		VectorStore: VectorStoreConfig{
			Type: "qdrant",
			Qdrant: QdrantConfig{
				URL:         DefaultQdrantURL,
				Collection:  DefaultCollection,
				TimeoutSecs: DefaultStoreTimeoutSecs,
			},
			SQLite: SQLiteConfig{Path: DefaultSQLitePath},
		},
		Retrieval: RetrievalConfig{
			Threshold:   DefaultThreshold,
			Limit:       DefaultSearchLimit,
			ScrollLimit: DefaultScrollLimit,
		},
		Storage: StorageConfig{UploadDir: DefaultUploadDir, CrawlDir: DefaultCrawlDir},
		Log:     LogConfig{Mode: "development"},
	}
}

// fills zero values left by partial YAML files. The threshold is not touched:
// Default seeds it, so a zero here was set explicitly.
func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Embedder.Provider == "" {
		cfg.Embedder.Provider = def.Embedder.Provider
	}
	if cfg.Embedder.OpenAI.BaseURL == "" {
		cfg.Embedder.OpenAI.BaseURL = def.Embedder.OpenAI.BaseURL
	}
	if cfg.Embedder.OpenAI.APIKeyEnv == "" {
		cfg.Embedder.OpenAI.APIKeyEnv = DefaultOpenAIKeyEnv
	}
	if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
		cfg.Embedder.OpenAI.TimeoutSecs = DefaultEmbedTimeoutSecs
	}
	if cfg.Embedder.Gemini.BaseURL == "" {
		cfg.Embedder.Gemini.BaseURL = def.Embedder.Gemini.BaseURL
	}
	if cfg.Embedder.Gemini.APIKeyEnv == "" {
		cfg.Embedder.Gemini.APIKeyEnv = DefaultGeminiKeyEnv
	}
	if cfg.Embedder.Gemini.TimeoutSecs == 0 {
		cfg.Embedder.Gemini.TimeoutSecs = DefaultEmbedTimeoutSecs
	}
	if cfg.Embedder.Local.Dimensions == 0 {
		cfg.Embedder.Local.Dimensions = def.Embedder.Local.Dimensions
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = chunker.DefaultChunkSize
		if cfg.Chunker.Overlap == 0 {
			cfg.Chunker.Overlap = chunker.DefaultChunkOverlap
		}
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = def.VectorStore.Type
	}
	if cfg.VectorStore.Qdrant.URL == "" {
		cfg.VectorStore.Qdrant.URL = DefaultQdrantURL
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = DefaultCollection
	}
	if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
		cfg.VectorStore.Qdrant.TimeoutSecs = DefaultStoreTimeoutSecs
	}
	if cfg.VectorStore.SQLite.Path == "" {
		cfg.VectorStore.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Retrieval.Limit == 0 {
		cfg.Retrieval.Limit = DefaultSearchLimit
	}
	if cfg.Retrieval.ScrollLimit == 0 {
		cfg.Retrieval.ScrollLimit = DefaultScrollLimit
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = DefaultUploadDir
	}
	if cfg.Storage.CrawlDir == "" {
		cfg.Storage.CrawlDir = DefaultCrawlDir
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides config fields from environment variables.
func ApplyEnv(cfg *AppConfig, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &domain.ConfigError{Field: key, Value: v, Reason: "expected integer"}
		}
		*dst = n
		return nil
	}

	str("QDRANT_URL", &cfg.VectorStore.Qdrant.URL)
	str("QDRANT_API_KEY", &cfg.VectorStore.Qdrant.APIKey)
	str("QDRANT_COLLECTION", &cfg.VectorStore.Qdrant.Collection)
	str("VECTOR_STORE", &cfg.VectorStore.Type)
	str("SQLITE_PATH", &cfg.VectorStore.SQLite.Path)
	str("EMBEDDING_PROVIDER", &cfg.Embedder.Provider)
	str("EMBEDDING_MODEL", &cfg.Embedder.Model)
	str("OPENAI_BASE_URL", &cfg.Embedder.OpenAI.BaseURL)
	str("UPLOAD_DIR", &cfg.Storage.UploadDir)
	str("CRAWL_DIR", &cfg.Storage.CrawlDir)
	str("LOG_MODE", &cfg.Log.Mode)
	cfg.Embedder.Provider = strings.ToLower(cfg.Embedder.Provider)
	cfg.VectorStore.Type = strings.ToLower(cfg.VectorStore.Type)

	if err := num("CHUNK_SIZE", &cfg.Chunker.Size); err != nil {
		return err
	}
	if err := num("CHUNK_OVERLAP", &cfg.Chunker.Overlap); err != nil {
		return err
	}
	if v, ok := lookup("SIMILARITY_THRESHOLD"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return &domain.ConfigError{Field: "SIMILARITY_THRESHOLD", Value: v, Reason: "expected number"}
		}
		cfg.Retrieval.Threshold = f
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	if err := chunker.Validate(c.Chunker.Size, c.Chunker.Overlap); err != nil {
		return err
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return &domain.ConfigError{
			Field:  "similarity threshold",
			Value:  strconv.FormatFloat(c.Retrieval.Threshold, 'f', -1, 64),
			Reason: "must be within [0,1]",
		}
	}
	switch c.Embedder.Provider {
	case "openai", "gemini", "local":
	default:
		return &domain.ConfigError{Field: "embedding provider", Value: c.Embedder.Provider, Reason: "expected openai, gemini or local"}
	}
	switch c.VectorStore.Type {
	case "qdrant":
		u, err := url.Parse(c.VectorStore.Qdrant.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &domain.ConfigError{
				Field:  "qdrant url",
				Value:  c.VectorStore.Qdrant.URL,
				Reason: "expected absolute URL like http://localhost:6333",
			}
		}
		if strings.TrimSpace(c.VectorStore.Qdrant.Collection) == "" {
			return &domain.ConfigError{Field: "qdrant collection", Reason: "required"}
		}
	case "memory", "sqlite":
	default:
		return &domain.ConfigError{Field: "vector store", Value: c.VectorStore.Type, Reason: "expected qdrant, memory or sqlite"}
	}
	return nil
}

// ResolveAPIKey returns the inline key or the value of the configured env var.
func (c OpenAIConfig) ResolveAPIKey() string { return resolveKey(c.APIKey, c.APIKeyEnv) }

// ResolveAPIKey returns the inline key or the value of the configured env var.
func (c GeminiConfig) ResolveAPIKey() string { return resolveKey(c.APIKey, c.APIKeyEnv) }

func resolveKey(inline, env string) string {
	if strings.TrimSpace(inline) != "" {
		return strings.TrimSpace(inline)
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
