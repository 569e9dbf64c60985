// Package service composes chunking, embedding and vector storage into the
// ingestion and retrieval operations.
package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"dtkrag/internal/chunker"
	"dtkrag/internal/crawler"
	"dtkrag/internal/domain"
	"dtkrag/internal/logger"
)

const (
	DefaultThreshold        = 0.7
	DefaultLimit            = 10
	DefaultScrollLimit      = 1000
	DefaultPreviewSentences = 3
)

// PageFetcher downloads a web page as text.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*crawler.Page, error)
}

// Deps are the collaborators of RAGService. Summarizer and Fetcher are
// optional; without a Fetcher IngestURL is unavailable.
type Deps struct {
	Chunker    *chunker.Fixed
	Embedder   domain.Embedder
	Store      domain.VectorStore
	Summarizer domain.Summarizer
	Fetcher    PageFetcher
}

// Options are the retrieval and storage defaults.
type Options struct {
	// Threshold nil means DefaultThreshold; zero is honoured.
	Threshold        *float64
	Limit            int
	ScrollLimit      int
	UploadDir        string
	CrawlDir         string
	PreviewSentences int
}

// RAGService runs ingest, retrieve, get and delete against one collection.
// It keeps no per-document state between calls.
type RAGService struct {
	chunker    *chunker.Fixed
	embedder   domain.Embedder
	store      domain.VectorStore
	summarizer domain.Summarizer
	fetcher    PageFetcher
	opts       Options
	threshold  float64
	log        *logger.Logger
	now        func() time.Time
}

func NewRAGService(deps Deps, opts Options, log *logger.Logger) (*RAGService, error) {
	if deps.Embedder == nil {
		return nil, &domain.ConfigError{Field: "embedder", Reason: "is required"}
	}
	if deps.Store == nil {
		return nil, &domain.ConfigError{Field: "vector store", Reason: "is required"}
	}
	if deps.Chunker == nil {
		ch, err := chunker.NewFixed()
		if err != nil {
			return nil, err
		}
		deps.Chunker = ch
	}
	threshold := DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, &domain.ConfigError{Field: "threshold", Value: strconv.FormatFloat(threshold, 'f', -1, 64), Reason: "must be within [0, 1]"}
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.ScrollLimit <= 0 {
		opts.ScrollLimit = DefaultScrollLimit
	}
	if opts.PreviewSentences <= 0 {
		opts.PreviewSentences = DefaultPreviewSentences
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RAGService{
		chunker:    deps.Chunker,
		embedder:   deps.Embedder,
		store:      deps.Store,
		summarizer: deps.Summarizer,
		fetcher:    deps.Fetcher,
		opts:       opts,
		threshold:  threshold,
		log:        log.With("service", "RAGService"),
		now:        time.Now,
	}, nil
}

// ChunkParams overrides the default window for one ingest call.
type ChunkParams struct {
	Size    int
	Overlap int
}

// IngestRequest is extracted text plus the metadata shared by its chunks.
type IngestRequest struct {
	Text     string
	Metadata domain.DocumentMetadata
	Chunking *ChunkParams
}

type IngestResult struct {
	DocumentID  string `json:"documentId"`
	ChunksCount int    `json:"chunksCount"`
}

// Ingest chunks, embeds and stores a document. Re-ingesting a document id
// overwrites its chunks; chunks beyond the new count are removed afterwards.
func (s *RAGService) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	meta := req.Metadata
	meta.DocumentID = strings.TrimSpace(meta.DocumentID)
	if meta.DocumentID == "" {
		return IngestResult{}, &domain.ConfigError{Field: "documentId", Reason: "is required"}
	}
	if strings.TrimSpace(req.Text) == "" {
		return IngestResult{}, fmt.Errorf("%w: document %s has no text", domain.ErrEmptyContent, meta.DocumentID)
	}
	if meta.FileName == "" {
		meta.FileName = meta.DocumentID
	}
	if meta.UploadedAt == "" {
		meta.UploadedAt = s.now().UTC().Format(time.RFC3339)
	}

	ch, err := s.chunkerFor(req.Chunking)
	if err != nil {
		return IngestResult{}, err
	}
	chunks := ch.ChunkDocument(meta.DocumentID, req.Text)
	if len(chunks) == 0 {
		return IngestResult{}, fmt.Errorf("%w: document %s produced no chunks", domain.ErrEmptyContent, meta.DocumentID)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	start := time.Now()
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return IngestResult{}, err
	}
	if err := s.store.EnsureCollection(ctx); err != nil {
		return IngestResult{}, err
	}

	points := make([]domain.StoredPoint, len(chunks))
	for i, c := range chunks {
		points[i] = domain.StoredPoint{
			ID:      domain.ChunkKey(meta.DocumentID, c.Index),
			Vector:  vectors[i],
			Payload: domain.NewPayload(meta, c),
		}
	}
	if err := s.store.Upsert(ctx, points); err != nil {
		return IngestResult{}, err
	}
	if err := s.store.DeleteChunksFrom(ctx, meta.DocumentID, len(chunks)); err != nil {
		return IngestResult{}, fmt.Errorf("remove stale chunks of %s: %w", meta.DocumentID, err)
	}

	s.log.Info("document ingested",
		"document_id", meta.DocumentID,
		"file_name", meta.FileName,
		"chunks", len(chunks),
		"chunk_size", ch.Size(),
		"chunk_overlap", ch.Overlap(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return IngestResult{DocumentID: meta.DocumentID, ChunksCount: len(chunks)}, nil
}

func (s *RAGService) chunkerFor(p *ChunkParams) (*chunker.Fixed, error) {
	if p == nil {
		return s.chunker, nil
	}
	return chunker.NewFixed(chunker.WithSize(p.Size), chunker.WithOverlap(p.Overlap))
}

// RetrieveOptions overrides the configured limit and threshold. Zero Limit
// and nil Threshold keep the defaults.
type RetrieveOptions struct {
	Limit     int
	Threshold *float64
}

// Retrieve returns the chunks most similar to query, best first. Every
// result scores at least the threshold; no match is an empty slice.
func (s *RAGService) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is blank", domain.ErrEmptyContent)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.opts.Limit
	}
	threshold := s.threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, &domain.ConfigError{Field: "threshold", Value: strconv.FormatFloat(threshold, 'f', -1, 64), Reason: "must be within [0, 1]"}
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if err := s.store.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	hits, err := s.store.Search(ctx, vectors[0], limit, threshold)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		results = append(results, h.ToSearchResult())
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	s.log.Debug("retrieval done", "results", len(results), "candidates", len(hits), "limit", limit, "threshold", threshold)
	return results, nil
}

// GetDocument reads a document back in chunk order. Documents with more
// chunks than the scroll limit come back with Truncated set.
func (s *RAGService) GetDocument(ctx context.Context, documentID string) (*domain.DocumentView, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, &domain.ConfigError{Field: "documentId", Reason: "is required"}
	}
	if err := s.store.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	page, err := s.store.ScrollByDocumentID(ctx, documentID, s.opts.ScrollLimit)
	if err != nil {
		return nil, err
	}
	if len(page.Points) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}

	points := page.Points
	sort.SliceStable(points, func(i, j int) bool { return points[i].Payload.ChunkIndex < points[j].Payload.ChunkIndex })
	view := &domain.DocumentView{
		DocumentID:  documentID,
		FileName:    points[0].Payload.FileName,
		FilePath:    points[0].Payload.FilePath,
		Chunks:      make([]domain.DocumentChunk, len(points)),
		TotalChunks: len(points),
		Truncated:   page.Truncated,
	}
	for i, p := range points {
		view.Chunks[i] = domain.DocumentChunk{ChunkText: p.Payload.Text, ChunkIndex: p.Payload.ChunkIndex}
	}
	if page.Truncated {
		s.log.Warn("document read truncated", "document_id", documentID, "scroll_limit", s.opts.ScrollLimit)
	}
	return view, nil
}

// DeleteDocument removes every chunk of a document. Unknown ids succeed.
func (s *RAGService) DeleteDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return &domain.ConfigError{Field: "documentId", Reason: "is required"}
	}
	if err := s.store.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := s.store.DeleteByDocumentID(ctx, documentID); err != nil {
		return err
	}
	s.log.Info("document deleted", "document_id", documentID)
	return nil
}

// Describe summarizes a result set for display: how many chunks matched and
// which files they came from.
func Describe(query string, results []domain.SearchResult, threshold float64) string {
	if len(results) == 0 {
		return fmt.Sprintf("No relevant documents found for %q (similarity threshold %.2f). Try more specific or different keywords.", query, threshold)
	}
	seen := make(map[string]struct{}, len(results))
	var paths []string
	for _, r := range results {
		if _, ok := seen[r.FilePath]; ok {
			continue
		}
		seen[r.FilePath] = struct{}{}
		paths = append(paths, r.FilePath)
	}
	return fmt.Sprintf("Found %d relevant results from %d documents. File paths: %s", len(results), len(paths), strings.Join(paths, ", "))
}

// Threshold is the configured default similarity threshold.
func (s *RAGService) Threshold() float64 { return s.threshold }
