// Package chunker splits extracted document text into overlapping windows.
package chunker

import (
	"strconv"
	"strings"

	"dtkrag/internal/domain"
)

const (
	// DefaultChunkSize is the window length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the number of characters shared by neighbouring windows.
	DefaultChunkOverlap = 200
)

// Chunk splits text into windows of size characters, advancing by
// size-overlap. Each window is trimmed and empty windows are dropped.
// Offsets count runes so multi-byte characters are never cut.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	step := size - overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece == "" {
			continue
		}
		chunks = append(chunks, piece)
	}
	return chunks, nil
}

// Validate checks window parameters. A step of zero or less would never
// advance the cursor.
func Validate(size, overlap int) error {
	if size <= 0 {
		return &domain.ConfigError{Field: "chunk size", Value: strconv.Itoa(size), Reason: "must be positive"}
	}
	if overlap < 0 {
		return &domain.ConfigError{Field: "chunk overlap", Value: strconv.Itoa(overlap), Reason: "must not be negative"}
	}
	if overlap >= size {
		return &domain.ConfigError{Field: "chunk overlap", Value: strconv.Itoa(overlap), Reason: "must be smaller than chunk size"}
	}
	return nil
}

// Fixed binds window parameters for repeated use.
type Fixed struct {
	size    int
	overlap int
}

// Option configures a Fixed chunker.
type Option func(*Fixed)

// WithSize sets the window length.
func WithSize(size int) Option {
	return func(f *Fixed) { f.size = size }
}

// WithOverlap sets the overlap between windows.
func WithOverlap(overlap int) Option {
	return func(f *Fixed) { f.overlap = overlap }
}

// NewFixed creates a chunker, 1000/200 unless overridden. Invalid
// combinations are reported rather than silently corrected.
func NewFixed(opts ...Option) (*Fixed, error) {
	f := &Fixed{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(f)
	}
	if err := Validate(f.size, f.overlap); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Fixed) Size() int    { return f.size }
func (f *Fixed) Overlap() int { return f.overlap }

// Split chunks text with the bound parameters.
func (f *Fixed) Split(text string) []string {
	// parameters were validated in NewFixed
	chunks, _ := Chunk(text, f.size, f.overlap)
	return chunks
}

// ChunkDocument returns positioned chunks for a document.
func (f *Fixed) ChunkDocument(documentID, text string) []domain.Chunk {
	pieces := f.Split(text)
	chunks := make([]domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.Chunk{
			DocumentID:  documentID,
			Index:       i,
			TotalChunks: len(pieces),
			Text:        p,
		}
	}
	return chunks
}
