package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/54b3r/kbase-go/internal/budget"
	"github.com/54b3r/kbase-go/internal/provider"
	"github.com/54b3r/kbase-go/internal/rag"
)

// Backend names a summarizer implementation.
type Backend string

const (
	// BackendLLM summarizes with the chat model from internal/provider.
	BackendLLM Backend = "llm"
	// BackendExtractive ranks sentences locally.
	BackendExtractive Backend = "extractive"
)

// Built is what NewFromEnv constructed.
type Built struct {
	// Summarizer is ready to use.
	Summarizer rag.Summarizer

	// Backend is the selected implementation.
	Backend Backend

	// Provider is the chat model config, nil for the extractive backend.
	Provider *provider.Config
}

// NewFromEnv constructs the summarizer selected by SUMMARIZER_BACKEND
// (llm | extractive, default llm).
//
// The llm backend reads the provider env vars (see provider.ConfigFromEnv),
// SUMMARY_MAX_INPUT_TOKENS (default 6000) and TOKENIZER
// (heuristic | cl100k_base, default heuristic). An unloadable tokenizer falls
// back to the heuristic with a warning. The extractive backend reads
// SUMMARY_SENTENCES (default 3).
func NewFromEnv(ctx context.Context, log *slog.Logger) (*Built, error) {
	if log == nil {
		log = slog.Default()
	}
	switch b := Backend(getEnvOrDefault("SUMMARIZER_BACKEND", string(BackendLLM))); b {
	case BackendExtractive:
		return &Built{Summarizer: NewExtractive(getEnvInt("SUMMARY_SENTENCES", 3)), Backend: b}, nil

	case BackendLLM:
		m, pcfg, err := provider.NewFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("summarizer: %w", err)
		}
		counter, err := budget.NewCounter(os.Getenv("TOKENIZER"))
		if err != nil {
			log.Warn("summarizer: tokenizer unavailable, using heuristic", slog.Any("error", err))
		}
		s, err := NewChat(&ChatConfig{
			Model:          m,
			Counter:        counter,
			MaxInputTokens: getEnvInt("SUMMARY_MAX_INPUT_TOKENS", budget.DefaultMaxContextTokens),
		})
		if err != nil {
			return nil, err
		}
		return &Built{Summarizer: s, Backend: b, Provider: pcfg}, nil

	default:
		return nil, fmt.Errorf("summarizer: unknown backend %q: valid values are llm, extractive", b)
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
