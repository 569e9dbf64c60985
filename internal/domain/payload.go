package domain

import (
	"fmt"
	"strings"
)

// ChunkKey is the stable identity of a chunk: re-ingesting the same document
// and index overwrites the same point.
func ChunkKey(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// NewPayload merges chunk text and document metadata.
func NewPayload(meta DocumentMetadata, ch Chunk) PointPayload {
	return PointPayload{
		Text:        ch.Text,
		DocumentID:  meta.DocumentID,
		FileName:    meta.FileName,
		FilePath:    meta.FilePath,
		FileType:    meta.FileType,
		ChunkIndex:  ch.Index,
		TotalChunks: ch.TotalChunks,
		PageNumber:  meta.PageNumber,
		UploadedAt:  meta.UploadedAt,
		ChunkID:     ChunkKey(meta.DocumentID, ch.Index),
	}
}

// Validate reports the first required payload field that is missing.
func (p PointPayload) Validate() error {
	var missing []string
	if strings.TrimSpace(p.DocumentID) == "" {
		missing = append(missing, "documentId")
	}
	if p.Text == "" {
		missing = append(missing, "text")
	}
	if p.FileName == "" {
		missing = append(missing, "fileName")
	}
	if p.ChunkIndex < 0 {
		missing = append(missing, "chunkIndex")
	}
	if len(missing) > 0 {
		return fmt.Errorf("payload missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ToSearchResult projects a scored point for callers.
func (p ScoredPoint) ToSearchResult() SearchResult {
	return SearchResult{
		DocumentID: p.Payload.DocumentID,
		FileName:   p.Payload.FileName,
		FilePath:   p.Payload.FilePath,
		FileType:   p.Payload.FileType,
		ChunkText:  p.Payload.Text,
		ChunkIndex: p.Payload.ChunkIndex,
		Score:      p.Score,
		PageNumber: p.Payload.PageNumber,
	}
}
