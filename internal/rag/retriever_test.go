package rag

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder maps known texts to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   atomic.Int32
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := s.vectors[t]
		if !ok {
			return nil, fmt.Errorf("stub: no vector for %q", t)
		}
		out[i] = v
	}
	return out, nil
}

func animalsEmbedder() *stubEmbedder {
	return &stubEmbedder{vectors: map[string][]float32{
		"Cats are mammals.":     {1, 0},
		"Dogs are mammals too.": {0, 1},
		"What are cats?":        {0.9, 0.1},
	}}
}

func newAnimalsRetriever(t *testing.T) (*Retriever, *Corpus, *stubEmbedder) {
	t.Helper()
	emb := animalsEmbedder()
	c := newTestCorpus(t, 2)
	ctx := context.Background()
	for _, text := range []string{"Cats are mammals.", "Dogs are mammals too."} {
		_, err := c.Add(ctx, text, "animals.txt", emb.vectors[text])
		require.NoError(t, err)
	}
	r, err := NewRetriever(emb, c)
	require.NoError(t, err)
	return r, c, emb
}

func TestRetriever_ReturnsNearestFragment(t *testing.T) {
	t.Parallel()
	r, _, _ := newAnimalsRetriever(t)

	got, err := r.Retrieve(context.Background(), "What are cats?", 1)
	require.NoError(t, err)
	assert.Equal(t, "Cats are mammals.", got)
}

func TestRetriever_JoinsClosestFirst(t *testing.T) {
	t.Parallel()
	r, _, _ := newAnimalsRetriever(t)

	got, err := r.Retrieve(context.Background(), "What are cats?", 5)
	require.NoError(t, err)
	assert.Equal(t, "Cats are mammals.\nDogs are mammals too.", got)
}

func TestRetriever_EmptyCorpusSkipsEmbedding(t *testing.T) {
	t.Parallel()
	emb := animalsEmbedder()
	r, err := NewRetriever(emb, newTestCorpus(t, 2))
	require.NoError(t, err)

	got, err := r.Retrieve(context.Background(), "What are cats?", 3)
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsAvailable, got)
	assert.Zero(t, emb.calls.Load())
}

func TestRetriever_Validation(t *testing.T) {
	t.Parallel()
	r, _, _ := newAnimalsRetriever(t)

	_, err := r.Retrieve(context.Background(), "", 3)
	require.ErrorIs(t, err, ErrValidation)

	_, err = r.Retrieve(context.Background(), "  \n", 3)
	require.ErrorIs(t, err, ErrValidation)

	_, err = r.Retrieve(context.Background(), "What are cats?", 0)
	require.ErrorIs(t, err, ErrValidation)
}

func TestRetriever_IsIdempotent(t *testing.T) {
	t.Parallel()
	r, c, _ := newAnimalsRetriever(t)

	first, err := r.Lookup(context.Background(), "What are cats?", 2)
	require.NoError(t, err)
	second, err := r.Lookup(context.Background(), "What are cats?", 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, c.Size())
}

func TestRetriever_EmbedderFailureIsModelError(t *testing.T) {
	t.Parallel()
	r, _, emb := newAnimalsRetriever(t)
	emb.err = errors.New("connection refused")

	_, err := r.Retrieve(context.Background(), "What are cats?", 1)
	require.ErrorIs(t, err, ErrModel)
}

func TestRetriever_EmbedderDeadlineIsTimeout(t *testing.T) {
	t.Parallel()
	r, _, emb := newAnimalsRetriever(t)
	emb.err = fmt.Errorf("post: %w", context.DeadlineExceeded)

	_, err := r.Retrieve(context.Background(), "What are cats?", 1)
	require.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// blockingEmbedder waits for its context to end.
type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRetriever_HungEmbedderTimesOut(t *testing.T) {
	t.Parallel()
	_, c, _ := newAnimalsRetriever(t)
	r, err := NewRetriever(blockingEmbedder{}, c, WithEmbedTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Retrieve(context.Background(), "What are cats?", 1)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetriever_NonPositiveEmbedTimeoutKeepsDefault(t *testing.T) {
	t.Parallel()
	r, err := NewRetriever(animalsEmbedder(), newTestCorpus(t, 2), WithEmbedTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, DefaultQueryEmbedTimeout, r.embedTimeout)
}

// staleSearch reports hits at positions the document store never assigned,
// as a remote index can after its collection outlives the process.
type staleSearch struct {
	*BruteForce
}

func (staleSearch) Search(_ context.Context, _ []float32, k int) ([]Hit, error) {
	hits := make([]Hit, k)
	for i := range hits {
		hits[i] = Hit{Position: 1000 + i}
	}
	return hits, nil
}

func TestRetriever_UnresolvedHitsYieldNoRelevantContext(t *testing.T) {
	t.Parallel()
	emb := animalsEmbedder()
	ix, err := NewVectorIndex(2, staleSearch{NewBruteForce()})
	require.NoError(t, err)
	c, err := NewCorpus(ix)
	require.NoError(t, err)
	_, err = c.Add(context.Background(), "Cats are mammals.", "animals.txt", emb.vectors["Cats are mammals."])
	require.NoError(t, err)
	r, err := NewRetriever(emb, c)
	require.NoError(t, err)

	res, err := r.Lookup(context.Background(), "What are cats?", 1)
	require.NoError(t, err)
	assert.Equal(t, NoRelevantContext, res.Context)
	assert.False(t, res.Found())
	assert.Equal(t, int32(1), emb.calls.Load())
}

func TestRetriever_WrongQueryDimensionIsModelError(t *testing.T) {
	t.Parallel()
	r, _, emb := newAnimalsRetriever(t)
	emb.vectors["odd query"] = []float32{1, 2, 3}

	_, err := r.Retrieve(context.Background(), "odd query", 1)
	require.ErrorIs(t, err, ErrModel)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestRetrieval_Found(t *testing.T) {
	t.Parallel()
	assert.False(t, Retrieval{Context: NoRelevantContext}.Found())
	assert.True(t, Retrieval{Context: "x", Results: []Result{{}}}.Found())
}
