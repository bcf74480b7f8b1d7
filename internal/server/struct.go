package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/session"
	"github.com/54b3r/kbase-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full ingest of a large upload.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Extractor turns uploaded files into text for POST /api/sources/upload.
	// If nil, uploads are rejected.
	Extractor extract.Extractor
	// SourceRoot confines local-path handles on POST /api/sources to this
	// directory. If empty, only http(s) URL handles are accepted.
	SourceRoot string
	// MaxUploadBytes caps the multipart body of an upload. Defaults to 50 MiB.
	MaxUploadBytes int64
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Engine is the session surface the handlers drive.
// *session.Orchestrator satisfies it; tests inject a fake.
type Engine interface {
	IngestSource(ctx context.Context, rawText, sourceRef string) (ingestion.Report, error)
	IngestHandles(ctx context.Context, handles []string) ([]session.SourceOutcome, error)
	DoneIngesting(ctx context.Context) error
	Ask(ctx context.Context, query string, k int) (session.Answer, error)
	ResetSession(ctx context.Context) error
	Stats() session.Stats
	History(ctx context.Context, n int) ([]store.Exchange, error)
}

// Server is the HTTP server that exposes one knowledge-base session.
type Server struct {
	// engine owns the session state.
	engine Engine
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// sourcesRequest is the JSON body for POST /api/sources. Exactly one of
// Text or Handles must be set.
type sourcesRequest struct {
	// Text is raw text to ingest.
	Text string `json:"text"`
	// Source labels Text (defaults to "inline").
	Source string `json:"source"`
	// Handles are file paths or URLs to extract and ingest.
	Handles []string `json:"handles"`
}

// sourcesResponse is the JSON response for POST /api/sources.
type sourcesResponse struct {
	// Report is set when Text was ingested.
	Report *ingestion.Report `json:"report,omitempty"`
	// Outcomes is set when Handles were ingested, one per handle.
	Outcomes []session.SourceOutcome `json:"outcomes,omitempty"`
	// Stats is the session state after ingestion.
	Stats session.Stats `json:"stats"`
}

// uploadResponse is the JSON response for POST /api/sources/upload.
type uploadResponse struct {
	// Source is the uploaded file name.
	Source string `json:"source"`
	// Report describes the ingestion.
	Report ingestion.Report `json:"report"`
	// Stats is the session state after ingestion.
	Stats session.Stats `json:"stats"`
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Query is the question.
	Query string `json:"query"`
	// K is the number of fragments to retrieve (0 = default).
	K int `json:"k"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	// SessionID is the current session.
	SessionID string `json:"session_id"`
	// Exchanges are the most recent asks, oldest first.
	Exchanges []store.Exchange `json:"exchanges"`
}

// errorResponse is the JSON body of every API error.
type errorResponse struct {
	// Error is the human-readable message.
	Error string `json:"error"`
	// Kind classifies the error (validation, model, timeout, ...).
	Kind string `json:"kind"`
}
