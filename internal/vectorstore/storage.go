// Package vectorstore builds the configured domain.VectorStore backend.
package vectorstore

import (
	"time"

	"dtkrag/internal/config"
	"dtkrag/internal/domain"
	"dtkrag/internal/logger"
	"dtkrag/internal/vectorstore/memory"
	"dtkrag/internal/vectorstore/qdrant"
	"dtkrag/internal/vectorstore/sqlite"
)

// New opens the backend named by cfg.Type for vectors of the given dimension.
func New(cfg config.VectorStoreConfig, dimension int, log *logger.Logger) (domain.VectorStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	switch cfg.Type {
	case "", "qdrant":
		log.Info("vector store selected", "type", "qdrant", "url", cfg.Qdrant.URL, "collection", cfg.Qdrant.Collection)
		s, err := qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Dimension:  dimension,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		log.Info("vector store selected", "type", "memory")
		return memory.NewStorage(dimension), nil
	case "sqlite":
		log.Info("vector store selected", "type", "sqlite", "path", cfg.SQLite.Path)
		s, err := sqlite.NewStorage(cfg.SQLite.Path, dimension, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &domain.ConfigError{Field: "vector store", Value: cfg.Type, Reason: "expected qdrant, memory or sqlite"}
	}
}
