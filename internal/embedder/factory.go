package embedder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/kbase-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// DefaultDimensions returns the default embedding vector size for the given
// backend name. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "hash":
		return DefaultHashDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// Backend resolves the effective embedding backend name.
func Backend() string {
	if b := getEnv("EMBEDDING_PROVIDER"); b != "" {
		return b
	}
	return getEnvOrDefault("MODEL_PROVIDER", "ollama")
}

// NewFromEnv constructs a rag.Embedder using cascading defaults that inherit
// from the chat provider configuration when embedding-specific overrides are
// not set. It also returns the expected vector dimension.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, falling back to MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS overrides the default dimensions
//     (ollama: 768, openai/azure: 1536, hash: 384)
//
// For ollama the returned dimension is only a default: models vary, so
// callers that can reach the server should confirm it with ProbeDimension.
func NewFromEnv() (rag.Embedder, int, error) {
	backend := Backend()
	dims := DefaultDimensions(backend)

	switch backend {
	case "hash":
		return NewHashingEmbedder(dims), dims, nil

	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:     host,
			Model:    getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel),
			Truncate: true,
			Timeout:  getEnvDuration("EMBED_TIMEOUT", 60*time.Second),
		}), dims, nil

	case "openai":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, 0, errors.New("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		baseURL := getEnv("EMBEDDING_ENDPOINT")
		if baseURL == "" {
			baseURL = getEnv("OPENAI_BASE_URL")
		}
		e, err := NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
		})
		if err != nil {
			return nil, 0, err
		}
		return e, dims, nil

	case "azure":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, 0, errors.New("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := getEnv("EMBEDDING_ENDPOINT")
		if endpoint == "" {
			endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		if endpoint == "" {
			return nil, 0, errors.New("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		e, err := NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint,
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		})
		if err != nil {
			return nil, 0, err
		}
		return e, dims, nil

	default:
		return nil, 0, fmt.Errorf("embedder: unknown backend %q: valid values are ollama, openai, azure, hash", backend)
	}
}

// ProbeDimension embeds a short probe text and returns the vector length the
// embedder actually produces.
func ProbeDimension(ctx context.Context, e rag.Embedder) (int, error) {
	vecs, err := e.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, rag.ModelFailure("embedder: probe dimension", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("%w: embedder: probe returned no vector", rag.ErrModel)
	}
	return len(vecs[0]), nil
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration parses a Go duration from the named variable, or returns
// fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
