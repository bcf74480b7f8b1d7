// Package rag holds the retrieval core: the fragment store, the vector index
// and its search strategies, the corpus that pairs them under one lock, and
// the retriever that turns a query into a context string.
// Embedding and summarization backends satisfy the interfaces declared here so
// the core never depends on a specific model provider.
package rag

import (
	"context"
)

// Fragment is one unit of ingested text.
type Fragment struct {
	// ID is the dense zero-based id assigned at append time. It equals the
	// position of the fragment's vector in the index.
	ID int `json:"id"`

	// Text is the fragment content, stored verbatim.
	Text string `json:"text"`

	// SourceRef is an opaque label naming where the text came from
	// (file path, URL, "inline"). May be empty.
	SourceRef string `json:"source_ref,omitempty"`
}

// Hit is one nearest-neighbor match returned by a VectorIndex.
type Hit struct {
	// Position is the index position of the matched vector.
	Position int `json:"position"`

	// Distance is the squared L2 distance between the query and the vector.
	Distance float32 `json:"distance"`
}

// Result pairs a resolved fragment with its distance to the query.
type Result struct {
	// Fragment is the stored fragment at the hit position.
	Fragment Fragment `json:"fragment"`

	// Distance is the squared L2 distance between the query and the fragment's vector.
	Distance float32 `json:"distance"`
}

// Embedder converts text into dense vectors of a fixed dimension.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Summarizer condenses a context string into a short answer. Implementations
// truncate over-long input themselves.
// Implementations must be safe to call from multiple goroutines.
type Summarizer interface {
	// Summarize returns a condensed version of text.
	Summarize(ctx context.Context, text string) (string, error)
}
