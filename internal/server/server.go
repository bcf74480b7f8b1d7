// Package server implements the HTTP server that exposes a knowledge-base
// session as a JSON API. The server is started by the `kbase serve` command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultMaxUploadBytes caps multipart uploads when Config.MaxUploadBytes is zero.
const defaultMaxUploadBytes = 50 << 20

// New constructs a Server from the provided engine and config.
func New(engine Engine, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.SourceRoot != "" {
		root, err := resolveRoot(cfg.SourceRoot)
		if err != nil {
			return nil, fmt.Errorf("server: source root: %w", err)
		}
		cfg.SourceRoot = root
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		engine:  engine,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: KBASE_API_KEY is not set, API authentication is disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.routes(rl)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.metrics.corpusFragments.Set(float64(engine.Stats().Fragments))

	return s, nil
}

// routes builds the request mux. Health, readiness and metrics are open;
// every other /api route requires the bearer token, and the ingest and ask
// routes are rate limited per client IP.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(h http.Handler) http.Handler { return authMiddleware(s.cfg.APIKey, h) }
	limit := rl.middleware

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	mux.Handle("POST /api/sources", s.instrument("sources", protect(limit(http.HandlerFunc(s.handleSources)))))
	mux.Handle("POST /api/sources/upload", s.instrument("upload", protect(limit(http.HandlerFunc(s.handleUpload)))))
	mux.Handle("POST /api/ask", s.instrument("ask", protect(limit(http.HandlerFunc(s.handleAsk)))))
	mux.Handle("POST /api/session/done", s.instrument("done", protect(http.HandlerFunc(s.handleDone))))
	mux.Handle("POST /api/session/reset", s.instrument("reset", protect(http.HandlerFunc(s.handleReset))))
	mux.Handle("GET /api/session", s.instrument("session", protect(http.HandlerFunc(s.handleSession))))
	mux.Handle("GET /api/history", s.instrument("history", protect(http.HandlerFunc(s.handleHistory))))
	return mux
}

// Handler returns the fully wrapped HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("kbase server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
