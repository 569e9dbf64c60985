package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtkrag/internal/domain"
	"dtkrag/internal/logger"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newTestStorage(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *Storage {
	t.Helper()
	s, err := NewStorage(Config{
		URL:        "http://qdrant.local/",
		APIKey:     "qd-key",
		Collection: "dtk_ai_documents",
		Dimension:  3,
		HTTPClient: &http.Client{Transport: roundTripFunc(roundTrip)},
	}, logger.Nop())
	require.NoError(t, err)
	return s
}

func jsonResponse(t *testing.T, status int, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

func okResponse(t *testing.T, result any) *http.Response {
	return jsonResponse(t, http.StatusOK, map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func errorResponse(t *testing.T, status int, msg string) *http.Response {
	return jsonResponse(t, status, map[string]any{"status": map[string]any{"error": msg}, "time": 0.001})
}

func collectionInfo(size int) map[string]any {
	return map[string]any{
		"config": map[string]any{
			"params": map[string]any{
				"vectors": map[string]any{"size": size, "distance": "Cosine"},
			},
		},
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func testPoint(doc string, idx int, vec []float32) domain.StoredPoint {
	meta := domain.DocumentMetadata{DocumentID: doc, FileName: "policy.md", FilePath: "uploads/" + doc + ".md", FileType: "md", UploadedAt: "2026-01-02T03:04:05Z"}
	ch := domain.Chunk{DocumentID: doc, Index: idx, TotalChunks: 2, Text: "chunk text"}
	return domain.StoredPoint{ID: domain.ChunkKey(doc, idx), Vector: vec, Payload: domain.NewPayload(meta, ch)}
}

func TestNewStorageValidates(t *testing.T) {
	_, err := NewStorage(Config{Collection: "c", Dimension: 3}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = NewStorage(Config{URL: "http://q", Dimension: 3}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = NewStorage(Config{URL: "http://q", Collection: "c"}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestEnsureCollectionCreatesMissing(t *testing.T) {
	var calls []string
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		assert.Equal(t, "qd-key", r.Header.Get("api-key"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			return okResponse(t, map[string]any{"collections": []any{map[string]any{"name": "other"}}}), nil
		case r.Method == http.MethodPut && r.URL.Path == "/collections/dtk_ai_documents":
			body := decodeBody(t, r)
			vectors := body["vectors"].(map[string]any)
			assert.Equal(t, float64(3), vectors["size"])
			assert.Equal(t, "Cosine", vectors["distance"])
			return okResponse(t, true), nil
		case r.Method == http.MethodGet && r.URL.Path == "/collections/dtk_ai_documents":
			return okResponse(t, collectionInfo(3)), nil
		}
		t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		return nil, nil
	})

	require.NoError(t, s.EnsureCollection(context.Background()))
	require.NoError(t, s.EnsureCollection(context.Background()))
	assert.Equal(t, []string{
		"GET /collections",
		"PUT /collections/dtk_ai_documents",
		"GET /collections/dtk_ai_documents",
	}, calls)
}

func TestEnsureCollectionExisting(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		require.NotEqual(t, http.MethodPut, r.Method, "existing collection must not be recreated")
		if r.URL.Path == "/collections" {
			return okResponse(t, map[string]any{"collections": []any{map[string]any{"name": "dtk_ai_documents"}}}), nil
		}
		return okResponse(t, collectionInfo(3)), nil
	})
	require.NoError(t, s.EnsureCollection(context.Background()))
}

func TestEnsureCollectionCreationRace(t *testing.T) {
	listed := 0
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		switch {
		case r.URL.Path == "/collections":
			listed++
			if listed == 1 {
				return okResponse(t, map[string]any{"collections": []any{}}), nil
			}
			return okResponse(t, map[string]any{"collections": []any{map[string]any{"name": "dtk_ai_documents"}}}), nil
		case r.Method == http.MethodPut:
			return errorResponse(t, http.StatusConflict, "Wrong input: Collection `dtk_ai_documents` already exists!"), nil
		default:
			return okResponse(t, collectionInfo(3)), nil
		}
	})
	require.NoError(t, s.EnsureCollection(context.Background()))
	assert.Equal(t, 2, listed)
}

func TestEnsureCollectionDimensionMismatch(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/collections" {
			return okResponse(t, map[string]any{"collections": []any{map[string]any{"name": "dtk_ai_documents"}}}), nil
		}
		return okResponse(t, collectionInfo(768)), nil
	})
	err := s.EnsureCollection(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "768")
}

func TestEnsureCollectionBackendError(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		return errorResponse(t, http.StatusInternalServerError, "service overloaded"), nil
	})
	err := s.EnsureCollection(context.Background())
	var se *domain.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ensure_collection", se.Op)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "service overloaded", se.Message)
}

func TestUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/dtk_ai_documents/points", r.URL.Path)
		assert.Equal(t, "wait=true", r.URL.RawQuery)
		captured = decodeBody(t, r)
		return okResponse(t, map[string]any{"operation_id": 1, "status": "completed"}), nil
	})

	err := s.Upsert(context.Background(), []domain.StoredPoint{
		testPoint("doc-1", 0, []float32{1, 0, 0}),
		testPoint("doc-1", 1, []float32{0, 1, 0}),
	})
	require.NoError(t, err)

	points := captured["points"].([]any)
	require.Len(t, points, 2)
	first := points[0].(map[string]any)
	assert.Equal(t, PointID("doc-1_chunk_0"), first["id"])
	payload := first["payload"].(map[string]any)
	assert.Equal(t, "doc-1", payload["documentId"])
	assert.Equal(t, "doc-1_chunk_0", payload["chunkId"])
	assert.Equal(t, float64(0), payload["chunkIndex"])
	assert.Equal(t, float64(2), payload["totalChunks"])
	assert.Equal(t, "md", payload["fileType"])
	assert.NotContains(t, payload, "pageNumber")
}

func TestPointIDDeterministic(t *testing.T) {
	assert.Equal(t, PointID("doc-1_chunk_3"), PointID("doc-1_chunk_3"))
	assert.NotEqual(t, PointID("doc-1_chunk_3"), PointID("doc-1_chunk_4"))
}

func TestUpsertValidation(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	err := s.Upsert(context.Background(), []domain.StoredPoint{testPoint("doc-1", 0, []float32{1, 0})})
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.Contains(t, err.Error(), "dimension mismatch")

	bad := testPoint("doc-1", 0, []float32{1, 0, 0})
	bad.Payload.FileName = ""
	err = s.Upsert(context.Background(), []domain.StoredPoint{bad})
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.Contains(t, err.Error(), "fileName")

	assert.NoError(t, s.Upsert(context.Background(), nil))
}

func searchItem(id string, score float64, doc string, idx int) map[string]any {
	return map[string]any{
		"id":    id,
		"score": score,
		"payload": map[string]any{
			"text":       "Passwords rotate every 90 days.",
			"documentId": doc,
			"fileName":   "policy.md",
			"filePath":   "uploads/policy.md",
			"fileType":   "md",
			"chunkIndex": idx,
			"chunkId":    domain.ChunkKey(doc, idx),
			"pageNumber": 2,
		},
	}
}

func TestSearchThresholdAndOrder(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "/collections/dtk_ai_documents/points/search", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, 0.7, body["score_threshold"])
		assert.Equal(t, float64(5), body["limit"])
		assert.Equal(t, true, body["with_payload"])
		// server ignored the threshold and returned unsorted results
		return okResponse(t, []any{
			searchItem("u1", 0.72, "doc-a", 1),
			searchItem("u2", 0.65, "doc-b", 0),
			searchItem("u3", 0.91, "doc-a", 0),
		}), nil
	})

	got, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.91, got[0].Score)
	assert.Equal(t, "doc-a_chunk_0", got[0].ID)
	assert.Equal(t, 0.72, got[1].Score)
	require.NotNil(t, got[0].Payload.PageNumber)
	assert.Equal(t, 2, *got[0].Payload.PageNumber)
}

func TestSearchRejectsIncompletePayload(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		return okResponse(t, []any{map[string]any{"id": 7, "score": 0.9, "payload": map[string]any{"text": "x"}}}), nil
	})
	_, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, 0.7)
	var se *domain.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StoreErrorDecodeFailed, se.Code)
	assert.Contains(t, se.Message, "point 7 payload missing required fields: documentId, fileName, chunkIndex")
}

func TestSearchQueryDimension(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	_, err := s.Search(context.Background(), []float32{1}, 5, 0.7)
	assert.ErrorIs(t, err, domain.ErrStore)
}

func TestScrollByDocumentID(t *testing.T) {
	next := any(nil)
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "/collections/dtk_ai_documents/points/scroll", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, float64(1000), body["limit"])
		must := body["filter"].(map[string]any)["must"].([]any)
		cond := must[0].(map[string]any)
		assert.Equal(t, "documentId", cond["key"])
		assert.Equal(t, "doc-a", cond["match"].(map[string]any)["value"])
		return okResponse(t, map[string]any{
			"points":           []any{searchItem("u1", 0, "doc-a", 1), searchItem("u2", 0, "doc-a", 0)},
			"next_page_offset": next,
		}), nil
	})

	page, err := s.ScrollByDocumentID(context.Background(), "doc-a", 1000)
	require.NoError(t, err)
	assert.Len(t, page.Points, 2)
	assert.False(t, page.Truncated)

	next = "5d1f7d0e-0000-0000-0000-000000000000"
	page, err = s.ScrollByDocumentID(context.Background(), "doc-a", 1000)
	require.NoError(t, err)
	assert.True(t, page.Truncated)
}

func TestDeleteByDocumentID(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/collections/dtk_ai_documents/points/delete", r.URL.Path)
		assert.Equal(t, "wait=true", r.URL.RawQuery)
		body := decodeBody(t, r)
		must := body["filter"].(map[string]any)["must"].([]any)
		assert.Len(t, must, 1)
		return okResponse(t, map[string]any{"operation_id": 2, "status": "completed"}), nil
	})
	require.NoError(t, s.DeleteByDocumentID(context.Background(), "doc-a"))
	require.NoError(t, s.DeleteByDocumentID(context.Background(), "doc-a"))
}

func TestDeleteChunksFrom(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		body := decodeBody(t, r)
		must := body["filter"].(map[string]any)["must"].([]any)
		require.Len(t, must, 2)
		rng := must[1].(map[string]any)
		assert.Equal(t, "chunkIndex", rng["key"])
		assert.Equal(t, float64(3), rng["range"].(map[string]any)["gte"])
		return okResponse(t, map[string]any{"status": "completed"}), nil
	})
	require.NoError(t, s.DeleteChunksFrom(context.Background(), "doc-a", 3))
}

func TestMissingCollectionResetsEnsured(t *testing.T) {
	ensureCalls := 0
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/collections":
			ensureCalls++
			return okResponse(t, map[string]any{"collections": []any{map[string]any{"name": "dtk_ai_documents"}}}), nil
		case "/collections/dtk_ai_documents":
			return okResponse(t, collectionInfo(3)), nil
		default:
			return errorResponse(t, http.StatusNotFound, "Not found: Collection `dtk_ai_documents` doesn't exist!"), nil
		}
	})

	require.NoError(t, s.EnsureCollection(context.Background()))
	_, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, 0.7)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "doesn't exist")

	require.NoError(t, s.EnsureCollection(context.Background()))
	assert.Equal(t, 2, ensureCalls)
}

func TestTransportFailure(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp 127.0.0.1:6333: connect: connection refused")
	})
	err := s.DeleteByDocumentID(context.Background(), "doc-a")
	var se *domain.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StoreErrorTransportFailed, se.Code)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTimeoutClassified(t *testing.T) {
	s := newTestStorage(t, func(r *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})
	_, err := s.ScrollByDocumentID(context.Background(), "doc-a", 10)
	var se *domain.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.StoreErrorTimeout, se.Code)
}
