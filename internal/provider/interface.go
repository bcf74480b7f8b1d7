// Package provider selects and constructs the chat model behind the LLM
// summarizer. Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark,
// Google Gemini. Each backend reads its own native credential env vars.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama configures the Ollama backend.
type ProviderOllama struct {
	// Host is the Ollama base URL, e.g. http://localhost:11434.
	Host string
	// Model is the local model tag, e.g. llama3.
	Model string
}

// ProviderOpenAI configures the OpenAI backend.
type ProviderOpenAI struct {
	// APIKey is the OpenAI secret key.
	APIKey string
	// Model is the chat model name, e.g. gpt-4o.
	Model string
	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string
}

// ProviderAzureOpenAI configures the Azure OpenAI backend.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI resource key.
	APIKey string
	// Endpoint is the resource endpoint, e.g. https://my.openai.azure.com.
	Endpoint string
	// Deployment is the model deployment name.
	Deployment string
	// APIVersion is the REST API version, e.g. 2024-02-01.
	APIVersion string
}

// ProviderArk configures the Volcengine Ark backend.
type ProviderArk struct {
	// APIKey is the Ark API key.
	APIKey string
	// Model is the Ark endpoint or model id.
	Model string
	// BaseURL overrides the regional Ark endpoint.
	BaseURL string
}

// ProviderGemini configures the Gemini backend.
type ProviderGemini struct {
	// APIKey is the Google AI Studio key.
	APIKey string
	// Model is the model name, e.g. gemini-1.5-pro.
	Model string
}

// SharedTuning holds generation settings applied to every backend that
// accepts them.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is read.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini

	// Tuning is shared across backends.
	Tuning SharedTuning
}

// Validate reports missing settings for the selected backend, naming the env
// var that supplies each one.
func (c *Config) Validate() error {
	var missing []string
	need := func(v, env string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, env)
		}
	}

	switch c.Backend {
	case BackendOllama:
		need(c.Ollama.Host, "OLLAMA_HOST")
		need(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendOpenAI:
		need(c.OpenAI.APIKey, "OPENAI_API_KEY")
		need(c.OpenAI.Model, "OPENAI_MODEL")
	case BackendAzure:
		need(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		need(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		need(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendArk:
		need(c.Ark.APIKey, "ARK_API_KEY")
		need(c.Ark.Model, "ARK_MODEL")
	case BackendGemini:
		need(c.Gemini.APIKey, "GOOGLE_API_KEY")
		need(c.Gemini.Model, "GEMINI_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q: valid values are ollama, openai, azure, ark, gemini", c.Backend)
	}

	if len(missing) > 0 {
		return errors.New("provider: " + string(c.Backend) + " backend requires " + strings.Join(missing, ", "))
	}
	return nil
}

// ModelName returns the model or deployment the config selects.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	default:
		return ""
	}
}
