package rag

import (
	"context"
	"errors"
	"sync"
)

// Corpus pairs a DocumentStore with a VectorIndex. Every write goes through
// a single lock so fragment ids and vector positions stay equal, and readers
// never observe the two sizes apart.
type Corpus struct {
	// mu makes each append+insert pair and each reset atomic for readers.
	mu sync.RWMutex
	// docs holds fragment text by id.
	docs *DocumentStore
	// index holds vectors by position.
	index *VectorIndex
}

// NewCorpus wraps index with a fresh DocumentStore. index must be empty.
func NewCorpus(index *VectorIndex) (*Corpus, error) {
	if index == nil {
		return nil, errors.New("rag: index must not be nil")
	}
	if index.Size() != 0 {
		return nil, errors.New("rag: corpus requires an empty index")
	}
	return &Corpus{docs: NewDocumentStore(), index: index}, nil
}

// Add stores text and its vector as one unit and returns the shared id.
// Both inputs are validated before either side is touched; if the index
// rejects the vector nothing is appended.
func (c *Corpus) Add(ctx context.Context, text, sourceRef string, vector []float32) (int, error) {
	if err := checkText(text); err != nil {
		return 0, err
	}
	if err := c.index.CheckDimension(vector); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.index.Insert(ctx, vector)
	if err != nil {
		return 0, err
	}
	id, err := c.docs.Append(text, sourceRef)
	if err != nil {
		// Unreachable: the text was checked above.
		panic("rag: document append failed after index insert: " + err.Error())
	}
	if id != pos {
		panic("rag: corpus id and index position diverged")
	}
	return id, nil
}

// Search returns the fragments nearest to query, closest first. Positions
// the store cannot resolve are dropped.
func (c *Corpus) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits, err := c.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		f, err := c.docs.Get(h.Position)
		if err != nil {
			continue
		}
		out = append(out, Result{Fragment: f, Distance: h.Distance})
	}
	return out, nil
}

// Get returns the fragment stored under id.
func (c *Corpus) Get(id int) (Fragment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs.Get(id)
}

// Size returns the number of fragments.
func (c *Corpus) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs.Size()
}

// Sizes returns the fragment count and vector count observed together.
func (c *Corpus) Sizes() (fragments, vectors int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs.Size(), c.index.Size()
}

// Dimension returns the vector dimension of the index.
func (c *Corpus) Dimension() int { return c.index.Dimension() }

// Exact reports whether the index strategy searches exactly.
func (c *Corpus) Exact() bool { return c.index.Exact() }

// Reset empties both the store and the index.
func (c *Corpus) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.index.Reset(ctx); err != nil {
		return err
	}
	c.docs.Reset()
	return nil
}

// Close releases the index strategy.
func (c *Corpus) Close() error {
	return c.index.Close()
}
