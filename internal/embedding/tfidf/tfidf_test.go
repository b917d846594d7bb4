package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestEmbedder_RequiresPrepare(t *testing.T) {
	_, err := NewEmbedder().Embed(context.Background(), "insulin")
	assert.Error(t, err)
}

func TestEmbedder_EmptyCorpus(t *testing.T) {
	assert.Error(t, NewEmbedder().Prepare(context.Background(), nil))
	assert.Error(t, NewEmbedder().Prepare(context.Background(), []string{"the and of"}))
}

func TestEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	require.NoError(t, e.Prepare(ctx, []string{
		"Hypoglycemia is a low blood glucose level.",
		"Thyroid hormones regulate metabolism.",
		"L'hypoglycémie se traite avec du sucre rapide.",
	}))
	assert.Greater(t, e.Dimension(), 0)

	q, err := e.Embed(ctx, "low glucose hypoglycemia")
	require.NoError(t, err)
	hypo, err := e.Embed(ctx, "Hypoglycemia is a low blood glucose level.")
	require.NoError(t, err)
	thyroid, err := e.Embed(ctx, "Thyroid hormones regulate metabolism.")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, math.Sqrt(dot(hypo, hypo)), 1e-9, "vectors are unit length")
	assert.Greater(t, dot(q, hypo), dot(q, thyroid))
}

func TestEmbedder_UnknownTermsGiveZeroVector(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	require.NoError(t, e.Prepare(ctx, []string{"insulin pump"}))

	v, err := e.Embed(ctx, "the of and")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestEmbedder_PrepareHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewEmbedder().Prepare(ctx, []string{"insulin"}), context.Canceled)
}
