package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"endochat/internal/domain"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// Upserting an existing chunk id replaces it.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float64
	chunks    []domain.Chunk
	byID      map[string]int
}

func NewStorage() *Storage { return &Storage{byID: make(map[string]int)} }

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != dimension {
		s.vectors = nil
		s.chunks = nil
		s.byID = make(map[string]int)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(_ context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if len(v) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	for i, ch := range chunks {
		if j, ok := s.byID[ch.ChunkID]; ok {
			s.chunks[j] = ch
			s.vectors[j] = vectors[i]
			continue
		}
		s.byID[ch.ChunkID] = len(s.chunks)
		s.chunks = append(s.chunks, ch)
		s.vectors = append(s.vectors, vectors[i])
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	// vectors are assumed L2-normalized, so the dot product is the cosine
	scores := make([]float64, len(s.vectors))
	idxs := make([]int, len(s.vectors))
	for i := range s.vectors {
		scores[i] = dot(s.vectors[i], vector)
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })
	if topK > len(idxs) {
		topK = len(idxs)
	}
	results := make([]domain.SearchResult, 0, topK)
	for _, j := range idxs[:topK] {
		results = append(results, domain.SearchResult{Chunk: s.chunks[j], Score: scores[j]})
	}
	return results, nil
}

func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = nil
	s.chunks = nil
	s.byID = make(map[string]int)
	return nil
}

// Len returns the number of stored chunks.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
