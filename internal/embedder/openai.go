// Package embedder provides the rag.Embedder implementations: Ollama over
// plain HTTP, OpenAI and Azure OpenAI through the official SDK, and an
// offline feature-hashing embedder that needs no model at all.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// maxOpenAIBatch is the largest input array the embeddings endpoint accepts
// in a single request.
const maxOpenAIBatch = 2048

// OpenAIEmbedder implements rag.Embedder using the OpenAI (or Azure OpenAI)
// embeddings API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// client is the SDK client, preconfigured for OpenAI or Azure.
	client openai.Client
	// model is the embedding model name (e.g. "text-embedding-3-small").
	// For Azure it is the deployment name.
	model string
	// dimensions is the desired embedding vector length (0 = model default).
	dimensions int
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL overrides the API base. For OpenAI it defaults to the SDK's
	// endpoint. For Azure it is the resource endpoint,
	// "https://<resource>.openai.azure.com".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	// Ignored when Azure is false.
	APIVersion string
	// MaxRetries is passed to the SDK; zero keeps the SDK default.
	MaxRetries int
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedder: openai api key must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedder: openai model must not be empty")
	}

	var opts []option.RequestOption
	if cfg.Azure {
		if cfg.BaseURL == "" {
			return nil, errors.New("embedder: azure endpoint must not be empty")
		}
		opts = append(opts,
			option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/openai/deployments/"+cfg.Model+"/"),
			option.WithHeader("api-key", cfg.APIKey),
			option.WithQuery("api-version", cfg.APIVersion),
		)
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
		}
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice. Batches larger than the
// API limit are split into several requests.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxOpenAIBatch {
		end := min(start+maxOpenAIBatch, len(texts))
		vecs, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embed issues one embeddings request.
func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		// Float keeps the response decodable as plain JSON numbers.
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", d.Index, len(texts))
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		embeddings[d.Index] = v
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("openai embedder: missing embedding for input %d", i)
		}
	}
	return embeddings, nil
}
