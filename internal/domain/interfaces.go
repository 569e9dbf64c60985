package domain

import "context"

// Chunk is a positioned window of a document's extracted text.
type Chunk struct {
	DocumentID  string
	Index       int
	TotalChunks int
	Text        string
}

// DocumentMetadata describes where a document came from. Many chunks share one
// DocumentMetadata through DocumentID.
type DocumentMetadata struct {
	DocumentID string
	FileName   string
	FilePath   string
	FileType   string
	PageNumber *int
	UploadedAt string
}

// PointPayload is the metadata stored next to every vector.
type PointPayload struct {
	Text        string `json:"text"`
	DocumentID  string `json:"documentId"`
	FileName    string `json:"fileName"`
	FilePath    string `json:"filePath"`
	FileType    string `json:"fileType"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	PageNumber  *int   `json:"pageNumber,omitempty"`
	UploadedAt  string `json:"uploadedAt"`
	ChunkID     string `json:"chunkId"`
}

// StoredPoint is the unit persisted in a vector store.
type StoredPoint struct {
	ID      string
	Vector  []float32
	Payload PointPayload
}

// ScoredPoint is a stored point returned by a similarity search.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload PointPayload
}

// ScrollPage is the result of listing a document's points.
type ScrollPage struct {
	Points    []ScoredPoint
	Truncated bool
}

// SearchResult is a matching chunk with its cosine similarity.
type SearchResult struct {
	DocumentID string  `json:"documentId"`
	FileName   string  `json:"fileName"`
	FilePath   string  `json:"filePath"`
	FileType   string  `json:"fileType"`
	ChunkText  string  `json:"chunkText"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
	PageNumber *int    `json:"pageNumber,omitempty"`
}

// DocumentChunk is one chunk of a reassembled document.
type DocumentChunk struct {
	ChunkText  string `json:"chunkText"`
	ChunkIndex int    `json:"chunkIndex"`
}

// DocumentView is a full document read back from the store in chunk order.
type DocumentView struct {
	DocumentID  string          `json:"documentId"`
	FileName    string          `json:"fileName"`
	FilePath    string          `json:"filePath"`
	Chunks      []DocumentChunk `json:"chunks"`
	TotalChunks int             `json:"totalChunks"`
	Truncated   bool            `json:"truncated"`
}

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore owns one collection and its points.
type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []StoredPoint) error
	Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]ScoredPoint, error)
	ScrollByDocumentID(ctx context.Context, documentID string, limit int) (ScrollPage, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
	DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) error
	Close() error
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
