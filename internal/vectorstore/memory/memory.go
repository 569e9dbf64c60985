package memory

import (
	"context"
	"fmt"
	"sync"

	"dtkrag/internal/domain"
	"dtkrag/internal/mathutil"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]domain.StoredPoint
	// insertion order keeps scroll output stable between calls
	order []string
}

var _ domain.VectorStore = (*Storage)(nil)

// NewStorage creates an empty store. A dimension of 0 accepts any vector size.
func NewStorage(dimension int) *Storage {
	return &Storage{dimension: dimension, points: make(map[string]domain.StoredPoint)}
}

func (s *Storage) EnsureCollection(ctx context.Context) error { return ctx.Err() }

func (s *Storage) Upsert(ctx context.Context, points []domain.StoredPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range points {
		if s.dimension > 0 && len(p.Vector) != s.dimension {
			return domain.NewStoreError("upsert", domain.StoreErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", p.ID, s.dimension, len(p.Vector)), nil)
		}
		if err := p.Payload.Validate(); err != nil {
			return domain.NewStoreError("upsert", domain.StoreErrorValidation, fmt.Sprintf("point %q", p.ID), err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		id := p.ID
		if id == "" {
			id = domain.ChunkKey(p.Payload.DocumentID, p.Payload.ChunkIndex)
		}
		if _, exists := s.points[id]; !exists {
			s.order = append(s.order, id)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.ID, p.Vector = id, vec
		p.Payload.ChunkID = id
		s.points[id] = p
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]domain.ScoredPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]domain.ScoredPoint, 0, len(s.order))
	scores := make([]float64, 0, len(s.order))
	for _, id := range s.order {
		p := s.points[id]
		score := mathutil.Cosine(p.Vector, vector)
		if score < threshold {
			continue
		}
		candidates = append(candidates, domain.ScoredPoint{ID: id, Score: score, Payload: p.Payload})
		scores = append(scores, score)
	}
	idxs := argsortDesc(scores)
	if limit > len(idxs) {
		limit = len(idxs)
	}
	results := make([]domain.ScoredPoint, 0, limit)
	for _, j := range idxs[:limit] {
		results = append(results, candidates[j])
	}
	return results, nil
}

func (s *Storage) ScrollByDocumentID(ctx context.Context, documentID string, limit int) (domain.ScrollPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScrollPage{}, err
	}
	if limit <= 0 {
		limit = 1000
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	page := domain.ScrollPage{Points: []domain.ScoredPoint{}}
	for _, id := range s.order {
		p := s.points[id]
		if p.Payload.DocumentID != documentID {
			continue
		}
		if len(page.Points) == limit {
			page.Truncated = true
			break
		}
		page.Points = append(page.Points, domain.ScoredPoint{ID: id, Payload: p.Payload})
	}
	return page, nil
}

func (s *Storage) DeleteByDocumentID(ctx context.Context, documentID string) error {
	return s.deleteWhere(ctx, func(p domain.PointPayload) bool { return p.DocumentID == documentID })
}

func (s *Storage) DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) error {
	return s.deleteWhere(ctx, func(p domain.PointPayload) bool {
		return p.DocumentID == documentID && p.ChunkIndex >= fromIndex
	})
}

func (s *Storage) deleteWhere(ctx context.Context, match func(domain.PointPayload) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	for _, id := range s.order {
		if match(s.points[id].Payload) {
			delete(s.points, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

// Len reports the number of stored points.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func (s *Storage) Close() error { return nil }

func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	quicksort(idxs, vals, 0, len(idxs)-1)
	return idxs
}

func quicksort(idxs []int, vals []float64, lo, hi int) {
	if lo >= hi {
		return
	}
	i, j := lo, hi
	pivot := vals[idxs[(lo+hi)/2]]
	for i <= j {
		for vals[idxs[i]] > pivot { // desc order
			i++
		}
		for vals[idxs[j]] < pivot {
			j--
		}
		if i <= j {
			idxs[i], idxs[j] = idxs[j], idxs[i]
			i++
			j--
		}
	}
	if lo < j {
		quicksort(idxs, vals, lo, j)
	}
	if i < hi {
		quicksort(idxs, vals, i, hi)
	}
}
