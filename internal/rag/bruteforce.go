package rag

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
)

// ctxCheckEvery is how many vectors BruteForce scans between context checks.
const ctxCheckEvery = 4096

// BruteForce is the exact NearestNeighborSearch: every query is compared
// against every stored vector. A bounded max-heap keeps the k best
// candidates, so a search costs O(n log k).
type BruteForce struct {
	// mu guards vectors.
	mu sync.RWMutex
	// vectors is indexed by position.
	vectors [][]float32
}

// NewBruteForce returns an empty exact search strategy.
func NewBruteForce() *BruteForce {
	return &BruteForce{}
}

// Add stores a copy of vector at position.
func (b *BruteForce) Add(_ context.Context, position int, vector []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if position != len(b.vectors) {
		return fmt.Errorf("brute force: position %d out of sequence, next is %d", position, len(b.vectors))
	}
	b.vectors = append(b.vectors, append([]float32(nil), vector...))
	return nil
}

// Search scans all vectors and returns the k nearest to query.
func (b *BruteForce) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if k > len(b.vectors) {
		k = len(b.vectors)
	}
	h := make(worstFirst, 0, k)
	for pos, v := range b.vectors {
		if pos%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cand := Hit{Position: pos, Distance: SquaredL2(query, v)}
		switch {
		case len(h) < k:
			heap.Push(&h, cand)
		case closer(cand, h[0]):
			h[0] = cand
			heap.Fix(&h, 0)
		}
	}

	hits := []Hit(h)
	sortHits(hits)
	return hits, nil
}

// Reset drops every vector.
func (b *BruteForce) Reset(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vectors = nil
	return nil
}

// Exact always reports true.
func (b *BruteForce) Exact() bool { return true }

// Close is a no-op.
func (b *BruteForce) Close() error { return nil }

// SquaredL2 returns sum((a[i]-b[i])^2), accumulated in float64.
// a and b must have the same length.
func SquaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// worstFirst is a max-heap of hits: the root is the candidate that would be
// evicted first.
type worstFirst []Hit

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
