package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endochat/internal/domain"
)

func TestStorage_SearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx,
		[]domain.Chunk{{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}},
		[][]float64{{0, 1}, {1, 0}, {0.6, 0.8}},
	))

	res, err := s.Search(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "b", res[0].Chunk.ChunkID)
	assert.Equal(t, "c", res[1].Chunk.ChunkID)
	assert.InDelta(t, 0.6, res[1].Score, 1e-9)
}

func TestStorage_UpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 1))
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{{ChunkID: "a", Text: "old"}}, [][]float64{{1}}))
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{{ChunkID: "a", Text: "new"}}, [][]float64{{1}}))

	assert.Equal(t, 1, s.Len())
	res, err := s.Search(ctx, []float64{1}, 5)
	require.NoError(t, err)
	assert.Equal(t, "new", res[0].Chunk.Text)
}

func TestStorage_Validation(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	assert.Error(t, s.Init(ctx, 0))
	require.NoError(t, s.Init(ctx, 2))
	assert.Error(t, s.Upsert(ctx, []domain.Chunk{{ChunkID: "a"}}, nil))
	assert.Error(t, s.Upsert(ctx, []domain.Chunk{{ChunkID: "a"}}, [][]float64{{1}}))
}

func TestStorage_Clear(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Init(ctx, 1))
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{{ChunkID: "a"}}, [][]float64{{1}}))
	require.NoError(t, s.Clear(ctx))
	assert.Zero(t, s.Len())
}
