package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/session"
)

// probeTimeout bounds each dependency probe during a readiness check.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability.
// Implementations must be safe to call from multiple goroutines.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error

	// Name is the label used in readiness responses (e.g. "embedder").
	Name() string
}

// readyCheck is the outcome of one probe.
type readyCheck struct {
	// Name is the dependency label.
	Name string `json:"name"`
	// OK is true when the probe succeeded.
	OK bool `json:"ok"`
	// LatencyMS is how long the probe took.
	LatencyMS int64 `json:"latency_ms"`
	// Error is the failure reason when OK is false.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every probe succeeded.
	Ready bool `json:"ready"`
	// Session describes the session the server holds.
	Session session.Stats `json:"session"`
	// Checks holds one entry per pinger, in registration order.
	Checks []readyCheck `json:"checks"`
}

// handleHealth handles GET /api/health. It never touches dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /api/ready. Probes run concurrently, each bounded
// by probeTimeout; any failure turns the response into a 503.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := probeAll(r.Context(), s.pingers)

	resp := readyResponse{Ready: true, Session: s.engine.Stats(), Checks: checks}
	log := logging.FromContext(r.Context())
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
			log.Warn("readiness probe failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// probeAll pings every dependency in parallel and returns the results in
// input order.
func probeAll(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var wg sync.WaitGroup
	for i, p := range pingers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(pctx)
			checks[i] = readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				checks[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()
	return checks
}
