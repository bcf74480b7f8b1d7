// Package audit provides a structured audit logger for CLI command invocations.
// It logs command name, resolved configuration, and sanitised environment state
// so operators can trace what happened without exposing secret values.
//
// Secrets are logged as "set" or "unset", never by value.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
	// path marks values whose home directory prefix is shortened to "~".
	path bool
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{key: "MODEL_PROVIDER"},
	{key: "OLLAMA_HOST"},
	{key: "OLLAMA_MODEL"},
	{key: "OPENAI_API_KEY", secret: true},
	{key: "OPENAI_MODEL"},
	{key: "OPENAI_BASE_URL"},
	{key: "AZURE_OPENAI_API_KEY", secret: true},
	{key: "AZURE_OPENAI_ENDPOINT"},
	{key: "AZURE_OPENAI_DEPLOYMENT"},
	{key: "ARK_API_KEY", secret: true},
	{key: "ARK_MODEL"},
	{key: "GOOGLE_API_KEY", secret: true},
	{key: "GEMINI_MODEL"},
	{key: "EMBEDDING_PROVIDER"},
	{key: "EMBEDDING_MODEL"},
	{key: "EMBEDDING_DIMENSIONS"},
	{key: "EMBEDDING_API_KEY", secret: true},
	{key: "INDEX_BACKEND"},
	{key: "QDRANT_HOST"},
	{key: "QDRANT_PORT"},
	{key: "QDRANT_COLLECTION"},
	{key: "QDRANT_API_KEY", secret: true},
	{key: "SPLIT_POLICY"},
	{key: "SUMMARIZER_BACKEND"},
	{key: "TOKENIZER"},
	{key: "WHISPER_MODEL"},
	{key: "KBASE_API_KEY", secret: true},
	{key: "KBASE_HISTORY_DB", path: true},
	{key: "LOG_LEVEL"},
	{key: "LOG_FORMAT"},
	{key: "LANGFUSE_PUBLIC_KEY", secret: true},
	{key: "LANGFUSE_SECRET_KEY", secret: true},
}

// secretEnvKeys lists environment variable names whose values must never be
// logged.
var secretEnvKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised environment.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitisePath(configPath, "none")),
	}

	for _, entry := range auditKeys {
		val := os.Getenv(entry.key)
		switch {
		case entry.secret:
			attrs = append(attrs, slog.String(entry.key, presence(val)))
		case entry.path:
			attrs = append(attrs, slog.String(entry.key, sanitisePath(val, "unset")))
		default:
			attrs = append(attrs, slog.String(entry.key, valOrUnset(val)))
		}
	}

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitisePath returns p with the home directory shortened to "~", or empty
// when p is empty.
func sanitisePath(p, empty string) string {
	if p == "" {
		return empty
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
