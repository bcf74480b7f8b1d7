// Package ingestion implements the ingestion pipeline: raw text is split into
// fragments, each fragment is embedded, and every fragment that embedded
// successfully is added to the corpus together with its vector.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Splitter cuts raw text into fragments. Defaults to SentenceSplitter.
	Splitter Splitter

	// BatchSize is the number of fragments sent per embedding call.
	// Defaults to 16 if zero.
	BatchSize int

	// EmbedTimeout bounds each embedding call. Defaults to 30s if zero.
	EmbedTimeout time.Duration
}

// Report summarises one Ingest call.
type Report struct {
	// Fragments is the number of fragments the splitter produced.
	Fragments int `json:"fragments"`

	// Added is the number of fragments stored in the corpus.
	Added int `json:"added"`

	// Skipped is the number of fragments dropped because embedding failed.
	Skipped int `json:"skipped"`

	// Warnings describes each skipped fragment.
	Warnings []string `json:"warnings,omitempty"`
}

// Pipeline orchestrates the split → embed → add flow for raw text.
type Pipeline struct {
	// embedder converts fragments into vectors.
	embedder rag.Embedder

	// corpus receives each fragment with its vector.
	corpus *rag.Corpus

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, corpus *rag.Corpus, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, errors.New("ingestion: embedder must not be nil")
	}
	if corpus == nil {
		return nil, errors.New("ingestion: corpus must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Splitter == nil {
		cfg.Splitter = SentenceSplitter{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}

	return &Pipeline{embedder: embedder, corpus: corpus, cfg: cfg}, nil
}

// Ingest splits rawText, embeds every fragment and adds the successful ones
// to the corpus. A fragment whose embedding fails is skipped with a warning;
// only cancellation of ctx or a corpus failure aborts the call. Fragments
// added before an abort stay added.
func (p *Pipeline) Ingest(ctx context.Context, rawText, sourceRef string) (Report, error) {
	log := logging.FromContext(ctx)

	fragments := p.cfg.Splitter.Split(rawText)
	rep := Report{Fragments: len(fragments)}
	if len(fragments) == 0 {
		log.Debug("ingestion: no fragments", slog.String("source", sourceRef))
		return rep, nil
	}

	for start := 0; start < len(fragments); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(fragments))
		batch := fragments[start:end]

		vectors, errs := p.embedBatch(ctx, batch)
		if err := ctx.Err(); err != nil {
			return rep, abortErr(err)
		}

		for i, text := range batch {
			idx := start + i
			if errs[i] != nil {
				p.skip(log, &rep, sourceRef, idx, errs[i])
				continue
			}
			if _, err := p.corpus.Add(ctx, text, sourceRef, vectors[i]); err != nil {
				if errors.Is(err, rag.ErrValidation) {
					p.skip(log, &rep, sourceRef, idx, fmt.Errorf("%w: unusable embedding: %v", rag.ErrModel, err))
					continue
				}
				return rep, fmt.Errorf("ingestion: add fragment %d of %s: %w", idx, sourceRef, err)
			}
			rep.Added++
		}
	}

	log.Info("ingestion: source ingested",
		slog.String("source", sourceRef),
		slog.Int("fragments", rep.Fragments),
		slog.Int("added", rep.Added),
		slog.Int("skipped", rep.Skipped),
	)
	return rep, nil
}

// embedBatch embeds texts in one call and, if that fails, retries each text
// alone so a single bad fragment only costs itself. The returned slices are
// parallel to texts; errs[i] is non-nil when texts[i] has no vector.
func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, []error) {
	errs := make([]error, len(texts))

	vectors, err := p.embed(ctx, texts)
	if err == nil {
		return vectors, errs
	}
	// Timeouts fail the whole batch without per-fragment retries.
	if len(texts) == 1 || ctx.Err() != nil || errors.Is(err, rag.ErrTimeout) {
		for i := range errs {
			errs[i] = err
		}
		return make([][]float32, len(texts)), errs
	}

	logging.FromContext(ctx).Debug("ingestion: batch embed failed, retrying per fragment",
		slog.Int("batch", len(texts)),
		slog.Any("error", err),
	)
	vectors = make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.embed(ctx, []string{t})
		if err != nil {
			errs[i] = err
			if ctx.Err() != nil {
				for j := i + 1; j < len(texts); j++ {
					errs[j] = err
				}
				break
			}
			continue
		}
		vectors[i] = v[0]
	}
	return vectors, errs
}

// embed performs one embedding call bounded by EmbedTimeout.
func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancel()

	vectors, err := p.embedder.Embed(callCtx, texts)
	if err != nil {
		return nil, rag.ModelFailure("ingestion: embed", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("ingestion: embedder returned %d vectors for %d texts: %w", len(vectors), len(texts), rag.ErrModel)
	}
	return vectors, nil
}

// skip records a dropped fragment on rep and logs it.
func (p *Pipeline) skip(log *slog.Logger, rep *Report, sourceRef string, idx int, err error) {
	rep.Skipped++
	rep.Warnings = append(rep.Warnings, fmt.Sprintf("fragment %d skipped: %v", idx, err))
	log.Warn("ingestion: fragment skipped",
		slog.String("source", sourceRef),
		slog.Int("fragment", idx),
		slog.String("kind", rag.Kind(err)),
		slog.Any("error", err),
	)
}

// abortErr wraps the parent context's error, classifying deadline expiry as
// a timeout.
func abortErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ingestion: aborted: %w: %w", rag.ErrTimeout, err)
	}
	return fmt.Errorf("ingestion: aborted: %w", err)
}
