package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dtkrag/internal/domain"
	"dtkrag/internal/logger"
)

const maxErrorBodyBytes = 1024

// chunk keys are hashed into this namespace; Qdrant only accepts UUID or integer ids
var pointIDNamespace = uuid.MustParse("6f6c3b2e-6b0e-4d0a-9a57-3f1b7f0c1d42")

// Config describes one Qdrant collection.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Storage is a REST client to Qdrant owning a single cosine collection.
type Storage struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client

	mu      sync.Mutex
	ensured bool
}

var _ domain.VectorStore = (*Storage)(nil)

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

// wirePayload mirrors domain.PointPayload with pointers for required fields
// so absent keys can be told apart from zero values.
type wirePayload struct {
	Text        *string `json:"text"`
	DocumentID  *string `json:"documentId"`
	FileName    *string `json:"fileName"`
	FilePath    string  `json:"filePath"`
	FileType    string  `json:"fileType"`
	ChunkIndex  *int    `json:"chunkIndex"`
	TotalChunks int     `json:"totalChunks"`
	PageNumber  *int    `json:"pageNumber"`
	UploadedAt  string  `json:"uploadedAt"`
	ChunkID     string  `json:"chunkId"`
}

type wirePoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload wirePayload     `json:"payload"`
}

func NewStorage(cfg Config, log *logger.Logger) (*Storage, error) {
	if log == nil {
		log = logger.Nop()
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, &domain.ConfigError{Field: "qdrant url", Reason: "required"}
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, &domain.ConfigError{Field: "qdrant collection", Reason: "required"}
	}
	if cfg.Dimension <= 0 {
		return nil, &domain.ConfigError{Field: "vector dimension", Value: fmt.Sprint(cfg.Dimension), Reason: "must be positive"}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Storage{
		log:     log.With("service", "QdrantVectorStore", "collection", cfg.Collection),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    client,
	}, nil
}

// EnsureCollection lists collections and creates the configured one when it
// is absent. A concurrent creator winning the race is not an error. An
// existing collection with another vector size is a configuration error.
func (s *Storage) EnsureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	const op = "ensure_collection"

	exists, err := s.collectionExists(ctx, op)
	if err != nil {
		return err
	}
	if !exists {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     s.cfg.Dimension,
				"distance": "Cosine",
			},
		}
		err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), body, nil)
		if err != nil {
			if !isAlreadyExists(err) {
				return err
			}
			again, checkErr := s.collectionExists(ctx, op)
			if checkErr != nil {
				return checkErr
			}
			if !again {
				return err
			}
			s.log.Debug("collection created concurrently")
		} else {
			s.log.Info("created qdrant collection", "dimension", s.cfg.Dimension, "distance", "Cosine")
		}
	}
	if err := s.verifyDimension(ctx, op); err != nil {
		return err
	}
	s.ensured = true
	return nil
}

func (s *Storage) collectionExists(ctx context.Context, op string) (bool, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := s.doJSON(ctx, op, http.MethodGet, "/collections", nil, &result); err != nil {
		return false, err
	}
	for _, c := range result.Collections {
		if c.Name == s.cfg.Collection {
			return true, nil
		}
	}
	return false, nil
}

func (s *Storage) verifyDimension(ctx context.Context, op string) error {
	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result); err != nil {
		return err
	}
	size := result.Config.Params.Vectors.Size
	if size != 0 && size != s.cfg.Dimension {
		reason := fmt.Sprintf("stores %d-dimensional vectors but the embedding provider produces %d; recreate the collection after switching providers",
			size, s.cfg.Dimension)
		return &domain.ConfigError{Field: "collection " + s.cfg.Collection, Reason: reason}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var se *domain.StoreError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusConflict || strings.Contains(strings.ToLower(se.Message), "already exists")
}

// Upsert writes all points in one request and waits for acknowledgement.
func (s *Storage) Upsert(ctx context.Context, points []domain.StoredPoint) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != s.cfg.Dimension {
			return domain.NewStoreError(op, domain.StoreErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", p.ID, s.cfg.Dimension, len(p.Vector)), nil)
		}
		if err := p.Payload.Validate(); err != nil {
			return domain.NewStoreError(op, domain.StoreErrorValidation, fmt.Sprintf("point %q", p.ID), err)
		}
		key := p.ID
		if key == "" {
			key = domain.ChunkKey(p.Payload.DocumentID, p.Payload.ChunkIndex)
		}
		payload := p.Payload
		payload.ChunkID = key
		out = append(out, map[string]any{
			"id":      PointID(key),
			"vector":  p.Vector,
			"payload": payload,
		})
	}
	return s.track(s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": out}, nil))
}

// Search asks Qdrant for points scoring at least threshold and re-applies the
// threshold locally in case the server ignores score_threshold.
func (s *Storage) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]domain.ScoredPoint, error) {
	const op = "search"
	if len(vector) != s.cfg.Dimension {
		return nil, domain.NewStoreError(op, domain.StoreErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.cfg.Dimension, len(vector)), nil)
	}
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"with_payload":    true,
		"with_vector":     false,
		"score_threshold": threshold,
	}
	var raw []wirePoint
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &raw); err != nil {
		return nil, s.track(err)
	}
	out := make([]domain.ScoredPoint, 0, len(raw))
	for _, item := range raw {
		if item.Score < threshold {
			continue
		}
		p, err := decodePoint(op, item)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ScrollByDocumentID returns one page of a document's points. Truncated is set
// when Qdrant reports a next page offset.
func (s *Storage) ScrollByDocumentID(ctx context.Context, documentID string, limit int) (domain.ScrollPage, error) {
	const op = "scroll"
	if limit <= 0 {
		limit = 1000
	}
	req := map[string]any{
		"filter":       documentFilter(documentID),
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	var result struct {
		Points         []wirePoint     `json:"points"`
		NextPageOffset json.RawMessage `json:"next_page_offset"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/scroll"), req, &result); err != nil {
		return domain.ScrollPage{}, s.track(err)
	}
	page := domain.ScrollPage{Points: make([]domain.ScoredPoint, 0, len(result.Points))}
	for _, item := range result.Points {
		p, err := decodePoint(op, item)
		if err != nil {
			return domain.ScrollPage{}, err
		}
		page.Points = append(page.Points, p)
	}
	next := strings.TrimSpace(string(result.NextPageOffset))
	page.Truncated = next != "" && next != "null"
	return page, nil
}

// DeleteByDocumentID deletes by payload filter. Matching nothing is success.
func (s *Storage) DeleteByDocumentID(ctx context.Context, documentID string) error {
	req := map[string]any{"filter": documentFilter(documentID)}
	return s.track(s.doJSON(ctx, "delete", http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil))
}

// DeleteChunksFrom removes a document's points with chunkIndex >= fromIndex.
func (s *Storage) DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) error {
	filter := documentFilter(documentID)
	filter["must"] = append(filter["must"].([]any), map[string]any{
		"key":   "chunkIndex",
		"range": map[string]any{"gte": fromIndex},
	})
	return s.track(s.doJSON(ctx, "delete_stale", http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"filter": filter}, nil))
}

// track forgets the ensured state once the collection disappears so the next
// EnsureCollection recreates it.
func (s *Storage) track(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		s.mu.Lock()
		s.ensured = false
		s.mu.Unlock()
		s.log.Warn("qdrant collection missing", "error", err)
	}
	return err
}

func (s *Storage) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

// PointID maps a readable chunk key to the UUID stored in Qdrant.
func PointID(chunkKey string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(chunkKey)).String()
}

func documentFilter(documentID string) map[string]any {
	return map[string]any{
		"must": []any{
			map[string]any{
				"key":   "documentId",
				"match": map[string]any{"value": documentID},
			},
		},
	}
}

func decodePoint(op string, item wirePoint) (domain.ScoredPoint, error) {
	id := decodePointID(item.ID)
	var missing []string
	if item.Payload.DocumentID == nil || strings.TrimSpace(*item.Payload.DocumentID) == "" {
		missing = append(missing, "documentId")
	}
	if item.Payload.Text == nil {
		missing = append(missing, "text")
	}
	if item.Payload.FileName == nil {
		missing = append(missing, "fileName")
	}
	if item.Payload.ChunkIndex == nil {
		missing = append(missing, "chunkIndex")
	}
	if len(missing) > 0 {
		return domain.ScoredPoint{}, domain.NewStoreError(op, domain.StoreErrorDecodeFailed,
			fmt.Sprintf("point %s payload missing required fields: %s", id, strings.Join(missing, ", ")), nil)
	}
	p := item.Payload
	payload := domain.PointPayload{
		Text:        *p.Text,
		DocumentID:  *p.DocumentID,
		FileName:    *p.FileName,
		FilePath:    p.FilePath,
		FileType:    p.FileType,
		ChunkIndex:  *p.ChunkIndex,
		TotalChunks: p.TotalChunks,
		PageNumber:  p.PageNumber,
		UploadedAt:  p.UploadedAt,
		ChunkID:     p.ChunkID,
	}
	if payload.ChunkID != "" {
		id = payload.ChunkID
	}
	return domain.ScoredPoint{ID: id, Score: item.Score, Payload: payload}, nil
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func (s *Storage) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func (s *Storage) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return domain.NewStoreError(op, domain.StoreErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return domain.NewStoreError(op, domain.StoreErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewStoreError(op, domain.StoreErrorDecodeFailed, "read response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := domain.StoreErrorQueryFailed
		if resp.StatusCode == http.StatusNotFound {
			code = domain.StoreErrorCollectionMissing
		}
		return &domain.StoreError{
			Op:         op,
			Code:       code,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, raw),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.NewStoreError(op, domain.StoreErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &domain.StoreError{Op: op, Code: domain.StoreErrorQueryFailed, StatusCode: resp.StatusCode, Message: statusErr}
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return domain.NewStoreError(op, domain.StoreErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

// errorMessage prefers Qdrant's status.error text over the raw body.
func errorMessage(status int, raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if msg := parseEnvelopeStatus(env.Status); msg != "" {
			return msg
		}
	}
	body := string(raw)
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes] + "..."
	}
	return fmt.Sprintf("qdrant http status=%d body=%q", status, body)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") || strings.EqualFold(statusString, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewStoreError(op, domain.StoreErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewStoreError(op, domain.StoreErrorTimeout, message, err)
	}
	return domain.NewStoreError(op, domain.StoreErrorTransportFailed, message, err)
}
