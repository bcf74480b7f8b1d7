package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultQueryEmbedTimeout bounds a single query embedding call.
const DefaultQueryEmbedTimeout = 30 * time.Second

// Sentinel contexts returned instead of an error when retrieval has nothing
// to offer.
const (
	// NoDocumentsAvailable is returned when the corpus is empty.
	NoDocumentsAvailable = "No documents available."

	// NoRelevantContext is returned when no hit resolved to a fragment.
	NoRelevantContext = "No relevant context found."
)

// Retrieval is the outcome of a lookup.
type Retrieval struct {
	// Context is the newline-joined fragment texts, closest first, or one
	// of the sentinel strings.
	Context string

	// Results are the resolved fragments behind Context. Empty when a
	// sentinel was returned.
	Results []Result
}

// Found reports whether Context holds retrieved text rather than a sentinel.
func (r Retrieval) Found() bool { return len(r.Results) > 0 }

// Retriever turns a query into a context string by embedding it and
// searching the corpus. It never mutates the corpus.
type Retriever struct {
	// embedder converts the query text to a vector.
	embedder Embedder

	// corpus is searched for the nearest fragments.
	corpus *Corpus

	// embedTimeout bounds each query embedding call.
	embedTimeout time.Duration
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithEmbedTimeout bounds each query embedding call. Non-positive values
// keep DefaultQueryEmbedTimeout.
func WithEmbedTimeout(d time.Duration) RetrieverOption {
	return func(r *Retriever) {
		if d > 0 {
			r.embedTimeout = d
		}
	}
}

// NewRetriever constructs a Retriever over corpus.
func NewRetriever(embedder Embedder, corpus *Corpus, opts ...RetrieverOption) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("rag: embedder must not be nil")
	}
	if corpus == nil {
		return nil, errors.New("rag: corpus must not be nil")
	}
	r := &Retriever{embedder: embedder, corpus: corpus, embedTimeout: DefaultQueryEmbedTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns the k nearest fragments to query joined with "\n",
// closest first, or a sentinel when there is nothing to return.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (string, error) {
	res, err := r.Lookup(ctx, query, k)
	if err != nil {
		return "", err
	}
	return res.Context, nil
}

// Lookup is Retrieve returning the resolved fragments alongside the context.
func (r *Retriever) Lookup(ctx context.Context, query string, k int) (Retrieval, error) {
	if strings.TrimSpace(query) == "" {
		return Retrieval{}, Validationf("query is empty")
	}
	if k <= 0 {
		return Retrieval{}, Validationf("k must be positive, got %d", k)
	}
	if r.corpus.Size() == 0 {
		return Retrieval{Context: NoDocumentsAvailable}, nil
	}

	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return Retrieval{}, err
	}

	results, err := r.corpus.Search(ctx, vec, k)
	if err != nil {
		return Retrieval{}, fmt.Errorf("rag: retrieve: %w", err)
	}
	if len(results) == 0 {
		return Retrieval{Context: NoRelevantContext}, nil
	}

	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Fragment.Text
	}
	return Retrieval{Context: strings.Join(texts, "\n"), Results: results}, nil
}

// embedQuery embeds a single query string and checks its dimension.
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	defer cancel()

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, ModelFailure("rag: embedding query failed", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for one query: %w", len(embeddings), ErrModel)
	}
	if got, want := len(embeddings[0]), r.corpus.Dimension(); got != want {
		return nil, fmt.Errorf("rag: query embedding has %d dimensions, want %d: %w", got, want, ErrModel)
	}
	return embeddings[0], nil
}
