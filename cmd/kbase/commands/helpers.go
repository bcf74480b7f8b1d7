package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/kbase-go/internal/embedder"
	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/provider"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/server"
	"github.com/54b3r/kbase-go/internal/session"
	"github.com/54b3r/kbase-go/internal/store"
	"github.com/54b3r/kbase-go/internal/summarizer"
)

// runtime is everything a command needs to drive one session.
type runtime struct {
	// orch is the session orchestrator.
	orch *session.Orchestrator
	// pingers probe the backends for GET /api/ready.
	pingers []server.Pinger
	// extractor turns file paths and URLs into text.
	extractor *extract.Registry
	// closers run in reverse order on shutdown.
	closers []func() error
}

// Close releases the corpus backend and the history store.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// buildRuntime wires the embedder, vector index, ingestion pipeline,
// retriever, summarizer, extractors and history store from the environment.
//
// Environment variables (beyond the embedder, provider and summarizer ones):
//
//	INDEX_BACKEND       = memory | qdrant (default: memory)
//	QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION, QDRANT_API_KEY,
//	QDRANT_TLS, QDRANT_EXACT
//	SPLIT_POLICY        = sentence | paragraph | line (default: sentence)
//	EMBED_BATCH_SIZE    (default: 16)
//	EMBED_TIMEOUT       (default: 30s)
//	RETRIEVE_TOP_K      (default: 3)
//	SUMMARIZE_TIMEOUT   (default: 60s)
//	EXTRACT_CONCURRENCY (default: 4)
//	KBASE_HISTORY_DB    path, or "disabled" (default: ~/.kbase/history.db)
func buildRuntime(ctx context.Context, log *slog.Logger) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, dims, err := embedder.NewFromEnv()
	if err != nil {
		return nil, err
	}
	backend := embedder.Backend()
	if backend == "ollama" && os.Getenv("EMBEDDING_DIMENSIONS") == "" {
		dims, err = embedder.ProbeDimension(ctx, emb)
		if err != nil {
			return nil, fmt.Errorf("embedder: is ollama running? %w", err)
		}
	}
	log.Info("embedder initialised", slog.String("backend", backend), slog.Int("dimensions", dims))
	rt.pingers = append(rt.pingers, server.NewEmbedderPinger(emb, "embedder"))

	strategy, err := buildSearch(ctx, dims, log)
	if err != nil {
		return nil, err
	}
	if qs, ok := strategy.(*rag.QdrantSearch); ok {
		rt.pingers = append(rt.pingers, server.NewQdrantPinger(qs.Client()))
	}
	index, err := rag.NewVectorIndex(dims, strategy)
	if err != nil {
		_ = strategy.Close()
		return nil, err
	}
	corpus, err := rag.NewCorpus(index)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, corpus.Close)

	splitter, err := ingestion.NewSplitter(os.Getenv("SPLIT_POLICY"))
	if err != nil {
		return nil, err
	}
	embedTimeout := getEnvDuration("EMBED_TIMEOUT", 30*time.Second)
	pipeline, err := ingestion.NewPipeline(emb, corpus, &ingestion.Config{
		Splitter:     splitter,
		BatchSize:    getEnvInt("EMBED_BATCH_SIZE", 16),
		EmbedTimeout: embedTimeout,
	})
	if err != nil {
		return nil, err
	}

	retriever, err := rag.NewRetriever(emb, corpus, rag.WithEmbedTimeout(embedTimeout))
	if err != nil {
		return nil, err
	}

	built, err := summarizer.NewFromEnv(ctx, log)
	if err != nil {
		return nil, err
	}
	log.Info("summarizer initialised", slog.String("backend", string(built.Backend)))
	if built.Provider != nil {
		log.Info("provider initialised",
			slog.String("provider", string(built.Provider.Backend)),
			slog.String("model", built.Provider.ModelName()),
		)
		if hc := provider.NewHealthChecker(built.Provider); hc != nil {
			rt.pingers = append(rt.pingers, server.NewLLMPinger(nil, hc, string(built.Provider.Backend)))
		}
	}

	history := openHistory(log)
	if history != nil {
		rt.closers = append(rt.closers, history.Close)
	}

	rt.extractor = extract.NewFromEnv(log)
	cfg := &session.Config{
		Corpus:             corpus,
		Pipeline:           pipeline,
		Retriever:          retriever,
		Summarizer:         built.Summarizer,
		Extractor:          rt.extractor,
		DefaultTopK:        getEnvInt("RETRIEVE_TOP_K", 3),
		SummarizeTimeout:   getEnvDuration("SUMMARIZE_TIMEOUT", 60*time.Second),
		ExtractConcurrency: getEnvInt("EXTRACT_CONCURRENCY", 4),
	}
	// A nil *SQLiteStore must not become a non-nil interface.
	if history != nil {
		cfg.History = history
	}
	rt.orch, err = session.New(cfg)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// buildSearch selects the nearest-neighbour strategy named by INDEX_BACKEND.
func buildSearch(ctx context.Context, dims int, log *slog.Logger) (rag.NearestNeighborSearch, error) {
	switch b := getEnvOrDefault("INDEX_BACKEND", "memory"); b {
	case "memory":
		return rag.NewBruteForce(), nil
	case "qdrant":
		qs, err := rag.NewQdrantSearch(ctx, &rag.QdrantConfig{
			Host:       os.Getenv("QDRANT_HOST"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: os.Getenv("QDRANT_COLLECTION"),
			Dimension:  uint64(dims),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     getEnvBool("QDRANT_TLS"),
			Exact:      getEnvBool("QDRANT_EXACT"),
		})
		if err != nil {
			return nil, err
		}
		log.Info("index: using qdrant", slog.Bool("exact", qs.Exact()))
		return qs, nil
	default:
		return nil, fmt.Errorf("index: unknown backend %q: valid values are memory, qdrant", b)
	}
}

// openHistory opens the exchange log. KBASE_HISTORY_DB overrides the default
// path (~/.kbase/history.db); "disabled" turns it off. Failures only disable
// history.
func openHistory(log *slog.Logger) *store.SQLiteStore {
	dbPath := os.Getenv("KBASE_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via KBASE_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}
