// Package sqlite is a persistent single-file vector store for offline use.
// Vectors are float32 little-endian blobs; search is a brute-force cosine scan.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	_ "modernc.org/sqlite"

	"dtkrag/internal/domain"
	"dtkrag/internal/logger"
	"dtkrag/internal/mathutil"
)

// Storage keeps every point of one collection in a SQLite database.
type Storage struct {
	db        *sql.DB
	path      string
	dimension int
	log       *logger.Logger
}

var _ domain.VectorStore = (*Storage)(nil)

// NewStorage opens (creating if needed) the database at path.
func NewStorage(path string, dimension int, log *logger.Logger) (*Storage, error) {
	if log == nil {
		log = logger.Nop()
	}
	if dimension <= 0 {
		return nil, &domain.ConfigError{Field: "vector dimension", Value: strconv.Itoa(dimension), Reason: "must be positive"}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.NewStoreError("open", domain.StoreErrorTransportFailed, "create database directory", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.NewStoreError("open", domain.StoreErrorTransportFailed, "failed to open database", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	s := &Storage{db: db, path: path, dimension: dimension, log: log.With("service", "SQLiteVectorStore", "path", path)}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return domain.NewStoreError("open", domain.StoreErrorQueryFailed, "pragma failed", err)
		}
	}
	schema := `
		CREATE TABLE IF NOT EXISTS points (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			embedding BLOB NOT NULL,
			payload TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_points_document ON points (document_id, chunk_index);
		CREATE TABLE IF NOT EXISTS collection_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			dimension INTEGER NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return domain.NewStoreError("open", domain.StoreErrorQueryFailed, "schema creation failed", err)
	}
	return nil
}

// EnsureCollection records the vector size on first use and rejects a
// database created for another size.
func (s *Storage) EnsureCollection(ctx context.Context) error {
	const op = "ensure_collection"
	var stored int
	err := s.db.QueryRowContext(ctx, "SELECT dimension FROM collection_meta WHERE id = 1").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO collection_meta (id, dimension) VALUES (1, ?)", s.dimension); err != nil {
			return domain.NewStoreError(op, domain.StoreErrorQueryFailed, "record dimension", err)
		}
		s.log.Info("initialized sqlite collection", "dimension", s.dimension)
		return nil
	case err != nil:
		return domain.NewStoreError(op, domain.StoreErrorQueryFailed, "read collection meta", err)
	}
	if stored != s.dimension {
		return &domain.ConfigError{
			Field:  "sqlite collection " + s.path,
			Reason: fmt.Sprintf("stores %d-dimensional vectors but the embedding provider produces %d", stored, s.dimension),
		}
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, points []domain.StoredPoint) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStoreError(op, domain.StoreErrorQueryFailed, "begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO points (id, document_id, chunk_index, embedding, payload) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return domain.NewStoreError(op, domain.StoreErrorQueryFailed, "prepare insert", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if len(p.Vector) != s.dimension {
			return domain.NewStoreError(op, domain.StoreErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", p.ID, s.dimension, len(p.Vector)), nil)
		}
		if err := p.Payload.Validate(); err != nil {
			return domain.NewStoreError(op, domain.StoreErrorValidation, fmt.Sprintf("point %q", p.ID), err)
		}
		id := p.ID
		if id == "" {
			id = domain.ChunkKey(p.Payload.DocumentID, p.Payload.ChunkIndex)
		}
		payload := p.Payload
		payload.ChunkID = id
		raw, err := json.Marshal(payload)
		if err != nil {
			return domain.NewStoreError(op, domain.StoreErrorEncodeFailed, "encode payload", err)
		}
		if _, err := stmt.ExecContext(ctx, id, payload.DocumentID, payload.ChunkIndex, encodeFloat32Slice(p.Vector), string(raw)); err != nil {
			return domain.NewStoreError(op, domain.StoreErrorQueryFailed, "insert point", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.NewStoreError(op, domain.StoreErrorQueryFailed, "commit", err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]domain.ScoredPoint, error) {
	const op = "search"
	if len(vector) != s.dimension {
		return nil, domain.NewStoreError(op, domain.StoreErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.dimension, len(vector)), nil)
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding, payload FROM points")
	if err != nil {
		return nil, domain.NewStoreError(op, domain.StoreErrorQueryFailed, "scan points", err)
	}
	defer rows.Close()

	var out []domain.ScoredPoint
	for rows.Next() {
		var (
			id      string
			blob    []byte
			payload string
		)
		if err := rows.Scan(&id, &blob, &payload); err != nil {
			return nil, domain.NewStoreError(op, domain.StoreErrorDecodeFailed, "scan row", err)
		}
		score := mathutil.Cosine(decodeFloat32Slice(blob), vector)
		if score < threshold {
			continue
		}
		p, err := decodePayload(op, id, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ScoredPoint{ID: id, Score: score, Payload: p})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError(op, domain.StoreErrorQueryFailed, "iterate points", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []domain.ScoredPoint{}
	}
	return out, nil
}

// ScrollByDocumentID reads one extra row to tell whether the page was cut.
func (s *Storage) ScrollByDocumentID(ctx context.Context, documentID string, limit int) (domain.ScrollPage, error) {
	const op = "scroll"
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload FROM points WHERE document_id = ? ORDER BY chunk_index LIMIT ?", documentID, limit+1)
	if err != nil {
		return domain.ScrollPage{}, domain.NewStoreError(op, domain.StoreErrorQueryFailed, "query document", err)
	}
	defer rows.Close()

	page := domain.ScrollPage{Points: []domain.ScoredPoint{}}
	for rows.Next() {
		if len(page.Points) == limit {
			page.Truncated = true
			break
		}
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return domain.ScrollPage{}, domain.NewStoreError(op, domain.StoreErrorDecodeFailed, "scan row", err)
		}
		p, err := decodePayload(op, id, payload)
		if err != nil {
			return domain.ScrollPage{}, err
		}
		page.Points = append(page.Points, domain.ScoredPoint{ID: id, Payload: p})
	}
	if err := rows.Err(); err != nil {
		return domain.ScrollPage{}, domain.NewStoreError(op, domain.StoreErrorQueryFailed, "iterate document", err)
	}
	return page, nil
}

func (s *Storage) DeleteByDocumentID(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM points WHERE document_id = ?", documentID); err != nil {
		return domain.NewStoreError("delete", domain.StoreErrorQueryFailed, "delete document", err)
	}
	return nil
}

func (s *Storage) DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM points WHERE document_id = ? AND chunk_index >= ?", documentID, fromIndex); err != nil {
		return domain.NewStoreError("delete_stale", domain.StoreErrorQueryFailed, "delete stale chunks", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func decodePayload(op, id, raw string) (domain.PointPayload, error) {
	var p domain.PointPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, domain.NewStoreError(op, domain.StoreErrorDecodeFailed, fmt.Sprintf("point %s payload", id), err)
	}
	if err := p.Validate(); err != nil {
		return p, domain.NewStoreError(op, domain.StoreErrorDecodeFailed, fmt.Sprintf("point %s", id), err)
	}
	return p, nil
}

func encodeFloat32Slice(f []float32) []byte {
	buf := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32Slice(b []byte) []float32 {
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return f
}
