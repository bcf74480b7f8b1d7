package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HealthChecker probes a backend without generating tokens.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck issues a GET against a listing endpoint of the backend.
type httpHealthCheck struct {
	// url is the endpoint to probe.
	url string

	// header holds the authentication headers for the request.
	header http.Header

	// client performs the probe.
	client *http.Client
}

// HealthCheck implements HealthChecker. Any 2xx response is healthy.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health check request: %w", err)
	}
	req.Header = h.header.Clone()
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check: %s returned status %d", h.url, resp.StatusCode)
	}
	return nil
}

// NewHealthChecker returns a zero-cost probe for the configured backend:
// Ollama's /api/tags, or the models listing of OpenAI and Azure OpenAI.
// It returns nil for backends without a free listing endpoint; callers then
// fall back to a minimal generation.
func NewHealthChecker(cfg *Config) HealthChecker {
	client := &http.Client{Timeout: 5 * time.Second}
	header := http.Header{}

	switch cfg.Backend {
	case BackendOllama:
		return &httpHealthCheck{
			url:    strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags",
			header: header,
			client: client,
		}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		header.Set("Authorization", "Bearer "+cfg.OpenAI.APIKey)
		return &httpHealthCheck{url: strings.TrimRight(base, "/") + "/models", header: header, client: client}
	case BackendAzure:
		header.Set("api-key", cfg.AzureOpenAI.APIKey)
		u := strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/") + "/openai/models?api-version=" + cfg.AzureOpenAI.APIVersion
		return &httpHealthCheck{url: u, header: header, client: client}
	default:
		return nil
	}
}
