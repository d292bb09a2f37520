package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryVectorStore_UpsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryVectorStore(zap.NewNop())

	require.NoError(t, s.Upsert(ctx, []Document{
		{ID: "a", Content: "A", Embedding: []float64{1, 0}},
		{ID: "b", Content: "B", Embedding: []float64{0, 1}},
		{ID: "c", Content: "C", Embedding: []float64{1, 1}},
	}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := s.Search(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Document.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "c", hits[1].Document.ID)

	// 覆盖写
	require.NoError(t, s.Upsert(ctx, []Document{{ID: "a", Content: "A2", Embedding: []float64{0, 1}}}))
	n, _ = s.Count(ctx)
	assert.Equal(t, 3, n)
	hits, err = s.Search(ctx, []float64{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", hits[0].Document.ID, "ties break by id")
	assert.Equal(t, "A2", hits[0].Document.Content)

	require.NoError(t, s.Delete(ctx, []string{"a", "missing"}))
	n, _ = s.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestInMemoryVectorStore_Validation(t *testing.T) {
	s := NewInMemoryVectorStore(nil)
	assert.Error(t, s.Upsert(context.Background(), []Document{{Embedding: []float64{1}}}))
	assert.ErrorIs(t, s.Upsert(context.Background(), []Document{{ID: "x"}}), ErrNoEmbedding)
}

func TestInMemoryVectorStore_SearchEdgeCases(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryVectorStore(nil)
	hits, err := s.Search(ctx, []float64{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Upsert(ctx, []Document{{ID: "a", Embedding: []float64{1}}}))
	hits, err = s.Search(ctx, []float64{1}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Search(cctx, []float64{1}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Zero(t, cosineSimilarity([]float64{0, 0}, []float64{1, 2}))
}
