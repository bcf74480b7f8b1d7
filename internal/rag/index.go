package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// NearestNeighborSearch is the pluggable search strategy behind a VectorIndex.
// The index validates dimensions and k and owns the position counter; a
// strategy only stores vectors and answers k-NN queries over them.
// Implementations must be safe to call from multiple goroutines.
type NearestNeighborSearch interface {
	// Add stores vector at position. Positions arrive densely from 0.
	Add(ctx context.Context, position int, vector []float32) error

	// Search returns up to k hits ordered by ascending squared L2 distance,
	// ties broken by lower position. k is at least 1 and at most the number
	// of stored vectors.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Reset drops every stored vector.
	Reset(ctx context.Context) error

	// Exact reports whether Search is guaranteed to return the true k nearest
	// neighbors with the position tie-break.
	Exact() bool

	// Close releases any resources held by the strategy.
	Close() error
}

// VectorIndex is a fixed-dimension vector collection answering k-nearest
// neighbor queries under squared L2 distance.
type VectorIndex struct {
	// mu guards size and serialises writes to the strategy.
	mu sync.RWMutex
	// dim is the vector dimension fixed at construction.
	dim int
	// size is the number of vectors accepted by the strategy.
	size int
	// strategy stores vectors and answers searches.
	strategy NearestNeighborSearch
}

// NewVectorIndex constructs an empty index of the given dimension. A nil
// strategy selects exact brute-force search.
func NewVectorIndex(dimension int, strategy NearestNeighborSearch) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, Validationf("index dimension must be positive, got %d", dimension)
	}
	if strategy == nil {
		strategy = NewBruteForce()
	}
	return &VectorIndex{dim: dimension, strategy: strategy}, nil
}

// Dimension returns the vector dimension of the index.
func (ix *VectorIndex) Dimension() int { return ix.dim }

// Exact reports whether searches are exact.
func (ix *VectorIndex) Exact() bool { return ix.strategy.Exact() }

// Size returns the number of stored vectors.
func (ix *VectorIndex) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}

// CheckDimension returns ErrWrongDimension unless len(v) equals the index dimension.
func (ix *VectorIndex) CheckDimension(v []float32) error {
	if len(v) != ix.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongDimension, len(v), ix.dim)
	}
	return nil
}

// Insert appends vector and returns its position. The size only advances
// once the strategy has accepted the vector.
func (ix *VectorIndex) Insert(ctx context.Context, vector []float32) (int, error) {
	if err := ix.CheckDimension(vector); err != nil {
		return 0, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	pos := ix.size
	if err := ix.strategy.Add(ctx, pos, vector); err != nil {
		return 0, fmt.Errorf("rag: index insert at %d: %w", pos, err)
	}
	ix.size++
	return pos, nil
}

// Search returns the min(k, Size()) vectors nearest to query, ascending by
// distance with ties broken by lower position. An empty index yields an
// empty, non-nil slice.
func (ix *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, Validationf("k must be positive, got %d", k)
	}
	if err := ix.CheckDimension(query); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.size == 0 {
		return []Hit{}, nil
	}
	hits, err := ix.strategy.Search(ctx, query, min(k, ix.size))
	if err != nil {
		return nil, fmt.Errorf("rag: index search: %w", err)
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset drops every vector. The dimension is unchanged.
func (ix *VectorIndex) Reset(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.strategy.Reset(ctx); err != nil {
		return fmt.Errorf("rag: index reset: %w", err)
	}
	ix.size = 0
	return nil
}

// Close releases the strategy's resources.
func (ix *VectorIndex) Close() error {
	return ix.strategy.Close()
}

// closer reports whether a ranks before b: smaller distance, then lower position.
func closer(a, b Hit) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Position < b.Position
}

// sortHits orders hits ascending by (distance, position).
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return closer(hits[i], hits[j]) })
}
