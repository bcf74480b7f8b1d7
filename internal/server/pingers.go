package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/kbase-go/internal/provider"
	"github.com/54b3r/kbase-go/internal/rag"
)

// LLMPinger probes the summarization model backend. It satisfies the Pinger
// interface and is used by GET /api/ready.
type LLMPinger struct {
	// model is probed with a one-word Generate call when no health check exists.
	model model.BaseChatModel
	// healthCheck probes a listing endpoint without spending tokens.
	healthCheck provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
// hc may be nil for backends without a token-free probe.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthChecker, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend for readiness. The token-free health check is
// used when available; otherwise a single Generate call is made.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return errors.New("no model configured")
	}

	slog.Debug("pinger: using Generate-based health check, tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return errors.New("generate returned nil response")
	}
	return nil
}

// EmbedderPinger probes the embedding backend with a one-text batch.
type EmbedderPinger struct {
	// embedder is the backend to probe.
	embedder rag.Embedder
	// name identifies the backend in readiness responses.
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger.
func NewEmbedderPinger(e rag.Embedder, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping embeds a short probe text.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vecs, err := p.embedder.Embed(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return errors.New("embed returned no vector")
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
