// Package embedding selects the embedding provider once per process and
// checks every batch it returns.
package embedding

import (
	"context"
	"fmt"
	"time"

	"dtkrag/internal/config"
	"dtkrag/internal/domain"
	"dtkrag/internal/embedding/gemini"
	"dtkrag/internal/embedding/local"
	"dtkrag/internal/embedding/openai"
	"dtkrag/internal/logger"
)

// Gateway wraps one provider. It short-circuits empty input and turns a
// response with the wrong count or vector size into a ProviderError.
type Gateway struct {
	provider domain.Embedder
	log      *logger.Logger
}

var _ domain.Embedder = (*Gateway)(nil)

// NewGateway wraps an already constructed provider.
func NewGateway(provider domain.Embedder, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Nop()
	}
	return &Gateway{provider: provider, log: log.With("service", "EmbeddingGateway", "provider", provider.Name())}
}

func (g *Gateway) Name() string   { return g.provider.Name() }
func (g *Gateway) Dimension() int { return g.provider.Dimension() }

// Embed returns one vector per text in input order.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	vectors, err := g.provider.Embed(ctx, texts)
	if err != nil {
		g.log.Warn("embedding failed", "texts", len(texts), "error", err)
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, &domain.ProviderError{
			Provider: g.provider.Name(),
			Message:  fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(vectors)),
		}
	}
	want := g.provider.Dimension()
	for i, v := range vectors {
		if len(v) != want {
			return nil, &domain.ProviderError{
				Provider: g.provider.Name(),
				Message:  fmt.Sprintf("embedding %d has %d dimensions, expected %d", i, len(v), want),
			}
		}
	}
	g.log.Debug("embedded batch", "texts", len(texts), "dimension", want, "took", time.Since(start))
	return vectors, nil
}

// New builds the configured provider behind a Gateway. A remote provider
// without an API key falls back to the other remote provider when that one
// has a key; with neither key it is a configuration error. The model override
// only applies to the provider that was asked for.
func New(cfg config.EmbedderConfig, log *logger.Logger) (*Gateway, error) {
	if log == nil {
		log = logger.Nop()
	}
	openaiKey := cfg.OpenAI.ResolveAPIKey()
	geminiKey := cfg.Gemini.ResolveAPIKey()

	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	model, dims := cfg.Model, cfg.Dimensions
	switch {
	case provider == "gemini" && geminiKey == "" && openaiKey != "":
		log.Warn("gemini api key not found, falling back to openai embeddings", "env", cfg.Gemini.APIKeyEnv)
		provider, model, dims = "openai", "", 0
	case provider == "openai" && openaiKey == "" && geminiKey != "":
		log.Warn("openai api key not found, falling back to gemini embeddings", "env", cfg.OpenAI.APIKeyEnv)
		provider, model, dims = "gemini", "", 0
	case (provider == "openai" || provider == "gemini") && openaiKey == "" && geminiKey == "":
		return nil, &domain.ConfigError{
			Field:  "embedding api key",
			Reason: fmt.Sprintf("no API keys found, set %s or %s", cfg.OpenAI.APIKeyEnv, cfg.Gemini.APIKeyEnv),
		}
	}

	var (
		p   domain.Embedder
		err error
	)
	switch provider {
	case "openai":
		p, err = openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKey:     openaiKey,
			Model:      model,
			Timeout:    time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			Dimensions: dims,
		})
	case "gemini":
		p, err = gemini.NewClient(gemini.Config{
			BaseURL:    cfg.Gemini.BaseURL,
			APIKey:     geminiKey,
			Model:      model,
			Timeout:    time.Duration(cfg.Gemini.TimeoutSecs) * time.Second,
			Dimensions: dims,
		})
	case "local":
		d := cfg.Local.Dimensions
		if dims > 0 {
			d = dims
		}
		p = local.NewEmbedder(d)
	default:
		return nil, &domain.ConfigError{Field: "embedding provider", Value: provider, Reason: "expected openai, gemini or local"}
	}
	if err != nil {
		return nil, err
	}
	log.Info("embedding provider selected", "provider", p.Name(), "dimension", p.Dimension())
	return NewGateway(p, log), nil
}
