package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtkrag/internal/domain"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, "dtk_ai_documents", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, 0.7, cfg.Retrieval.Threshold)
	assert.Equal(t, 1000, cfg.Chunker.Size)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, "openai", cfg.Embedder.Provider)
	assert.Equal(t, "./uploads", cfg.Storage.UploadDir)
	assert.Equal(t, "./crawled_data", cfg.Storage.CrawlDir)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, envMap(map[string]string{
		"QDRANT_URL":           "http://qdrant:6333",
		"QDRANT_API_KEY":       "secret",
		"QDRANT_COLLECTION":    "policies",
		"EMBEDDING_PROVIDER":   "Gemini",
		"SIMILARITY_THRESHOLD": "0.55",
		"CHUNK_SIZE":           "500",
		"CHUNK_OVERLAP":        "50",
		"VECTOR_STORE":         "SQLite",
		"UPLOAD_DIR":           "/tmp/up",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://qdrant:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, "secret", cfg.VectorStore.Qdrant.APIKey)
	assert.Equal(t, "policies", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, "gemini", cfg.Embedder.Provider)
	assert.Equal(t, "sqlite", cfg.VectorStore.Type)
	assert.Equal(t, 0.55, cfg.Retrieval.Threshold)
	assert.Equal(t, 500, cfg.Chunker.Size)
	assert.Equal(t, 50, cfg.Chunker.Overlap)
	assert.Equal(t, "/tmp/up", cfg.Storage.UploadDir)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	tests := map[string]string{
		"CHUNK_SIZE":           "big",
		"CHUNK_OVERLAP":        "1.5",
		"SIMILARITY_THRESHOLD": "high",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			err := ApplyEnv(Default(), envMap(map[string]string{key: val}))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"overlap not below size", func(c *AppConfig) { c.Chunker.Overlap = c.Chunker.Size }},
		{"threshold above one", func(c *AppConfig) { c.Retrieval.Threshold = 1.2 }},
		{"unknown provider", func(c *AppConfig) { c.Embedder.Provider = "cohere" }},
		{"unknown store", func(c *AppConfig) { c.VectorStore.Type = "pinecone" }},
		{"relative qdrant url", func(c *AppConfig) { c.VectorStore.Qdrant.URL = "localhost" }},
		{"blank collection", func(c *AppConfig) { c.VectorStore.Qdrant.Collection = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrConfiguration)
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultCollection, cfg.VectorStore.Qdrant.Collection)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "embedder:\n  provider: local\nchunker:\n  size: 400\n  overlap: 40\nvector_store:\n  type: memory\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Embedder.Provider)
	assert.Equal(t, 400, cfg.Chunker.Size)
	assert.Equal(t, 40, cfg.Chunker.Overlap)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, DefaultOpenAIKeyEnv, cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, DefaultThreshold, cfg.Retrieval.Threshold)
	assert.Equal(t, 512, cfg.Embedder.Local.Dimensions)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.VectorStore.Qdrant.Collection = "handbook"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "handbook", loaded.VectorStore.Qdrant.Collection)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("DTK_TEST_OPENAI_KEY", " sk-env ")
	c := OpenAIConfig{APIKeyEnv: "DTK_TEST_OPENAI_KEY"}
	assert.Equal(t, "sk-env", c.ResolveAPIKey())

	c.APIKey = "sk-inline"
	assert.Equal(t, "sk-inline", c.ResolveAPIKey())

	assert.Equal(t, "", GeminiConfig{}.ResolveAPIKey())
}

func TestZeroThresholdIsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  threshold: 0\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Retrieval.Threshold)

	cfg = Default()
	require.NoError(t, ApplyEnv(cfg, envMap(map[string]string{"SIMILARITY_THRESHOLD": "0"})))
	assert.Equal(t, 0.0, cfg.Retrieval.Threshold)
}
