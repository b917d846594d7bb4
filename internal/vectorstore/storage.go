package vectorstore

import (
	"context"

	"endochat/internal/domain"
)

// Storage persists vectors and supports similarity search.
// Search scores are cosine similarities, higher is more similar.
type Storage interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error)
	Clear(ctx context.Context) error
}
