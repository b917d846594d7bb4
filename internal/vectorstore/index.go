package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"endochat/internal/domain"
	"endochat/internal/embedding"
	"endochat/internal/observability"
)

// Index answers similarity queries by embedding the query and searching the
// storage. It implements domain.Searcher.
type Index struct {
	embedder embedding.Embedder
	store    Storage
}

func NewIndex(embedder embedding.Embedder, store Storage) (*Index, error) {
	if embedder == nil || store == nil {
		return nil, errors.New("index requires an embedder and a storage")
	}
	return &Index{embedder: embedder, store: store}, nil
}

// CosineToDistance converts a cosine similarity to the squared Euclidean
// distance between unit vectors, in [0, 4].
func CosineToDistance(cos float64) float64 {
	return 2 - 2*cos
}

// Search returns the k nearest chunks, nearest first.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	start := time.Now()
	chunks, err := ix.search(ctx, query, k)
	observability.RecordSearch(time.Since(start), err == nil)
	return chunks, err
}

func (ix *Index) search(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if embedding.IsZero(vec) {
		return nil, nil
	}
	results, err := ix.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	out := make([]domain.RetrievedChunk, 0, len(results))
	for _, r := range results {
		out = append(out, domain.RetrievedChunk{
			Content: r.Chunk.Text,
			Metadata: domain.ChunkMetadata{
				SourcePath: r.Chunk.Source,
				Page:       r.Chunk.Page,
				PageLabel:  r.Chunk.PageLabel,
			},
			Distance: CosineToDistance(r.Score),
		})
	}
	return out, nil
}
