package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/54b3r/kbase-go/internal/textutil"
)

// DefaultHashDimensions is the vector length of the hashing embedder when
// EMBEDDING_DIMENSIONS is unset.
const DefaultHashDimensions = 384

// bigramWeight scales adjacent-word features relative to single words.
const bigramWeight = 0.5

// HashingEmbedder maps text to a fixed-size vector by hashing its content
// words and word bigrams into signed buckets, then L2-normalising. It needs
// no model or network, is deterministic, and is safe for concurrent use.
// Texts sharing vocabulary land close together under squared L2 distance.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder returns a HashingEmbedder producing dim-length vectors
// (DefaultHashDimensions if dim <= 0).
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimensions
	}
	return &HashingEmbedder{dim: dim}
}

// Dimension returns the output vector length.
func (h *HashingEmbedder) Dimension() int { return h.dim }

// Embed implements rag.Embedder.
func (h *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashingEmbedder) vector(text string) []float32 {
	acc := make([]float64, h.dim)

	words := textutil.ContentTokens(text)
	if len(words) == 0 {
		// Questions made only of stopwords still need a direction.
		words = textutil.Tokens(text)
	}
	for i, w := range words {
		h.add(acc, w, 1)
		if i > 0 {
			h.add(acc, words[i-1]+" "+w, bigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, h.dim)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

// add hashes feature into a bucket; the top bit picks the sign so that
// collisions cancel out on average instead of piling up.
func (h *HashingEmbedder) add(acc []float64, feature string, weight float64) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	bucket := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[bucket] += weight
}
