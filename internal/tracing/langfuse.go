// Package tracing wires optional Langfuse tracing into the eino callback
// chain so every summarization call is recorded.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Config holds the Langfuse connection settings.
type Config struct {
	// Host is the Langfuse base URL (default: http://localhost:3000).
	Host string
	// PublicKey and SecretKey authenticate the project. Both are required.
	PublicKey string
	SecretKey string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	return Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup registers a global Langfuse callback handler when cfg is enabled and
// returns the flush function that must run before process exit. It returns
// nil when tracing is disabled.
func Setup(cfg Config, log *slog.Logger) func() {
	if log == nil {
		log = slog.Default()
	}
	if !cfg.Enabled() {
		log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return nil
	}
	if cfg.Host == "" {
		cfg.Host = "http://localhost:3000"
	}

	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled", slog.String("host", cfg.Host))
	return flush
}
