package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/store"
)

// defaultHistoryN is the number of exchanges GET /api/history returns when
// ?n is absent.
const defaultHistoryN = 10

// statusForError maps an error class to an HTTP status code.
func statusForError(err error) int {
	if errors.Is(err, rag.ErrWrongPhase) {
		return http.StatusConflict
	}
	switch rag.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "extraction":
		return http.StatusUnprocessableEntity
	case "model":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	case "canceled":
		// Client went away; nginx's 499 has no net/http constant.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError logs err and writes it as an errorResponse.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	log := logging.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", slog.String("kind", rag.Kind(err)), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.String("kind", rag.Kind(err)), slog.Any("error", err))
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error(), Kind: rag.Kind(err)})
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return rag.Validationf("invalid request body: %v", err)
	}
	return nil
}

// recordIngest feeds an ingestion report into the metrics.
func (s *Server) recordIngest(rep ingestion.Report) {
	s.metrics.fragmentsIngestedTotal.Add(float64(rep.Added))
	s.metrics.fragmentsSkippedTotal.Add(float64(rep.Skipped))
}

// refreshCorpusGauge updates the corpus size gauge from the engine.
func (s *Server) refreshCorpusGauge() {
	s.metrics.corpusFragments.Set(float64(s.engine.Stats().Fragments))
}

// handleSources handles POST /api/sources. The body carries either raw text
// or a list of handles (paths or URLs) to extract and ingest.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	var req sourcesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	hasText := strings.TrimSpace(req.Text) != ""
	if hasText && len(req.Handles) > 0 {
		writeError(w, r, rag.Validationf("text and handles are mutually exclusive"))
		return
	}

	var resp sourcesResponse
	switch {
	case len(req.Handles) > 0:
		handles, err := s.resolveHandles(req.Handles)
		if err != nil {
			writeError(w, r, err)
			return
		}
		outcomes, err := s.engine.IngestHandles(r.Context(), handles)
		for _, o := range outcomes {
			s.recordIngest(o.Report)
		}
		s.refreshCorpusGauge()
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Outcomes = outcomes

	case hasText:
		source := req.Source
		if source == "" {
			source = "inline"
		}
		rep, err := s.engine.IngestSource(r.Context(), req.Text, source)
		s.recordIngest(rep)
		s.refreshCorpusGauge()
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Report = &rep

	default:
		writeError(w, r, rag.Validationf("either text or handles is required"))
		return
	}

	resp.Stats = s.engine.Stats()
	writeJSON(w, r, http.StatusOK, resp)
}

// resolveHandles admits http(s) URLs as-is and local paths only when they
// resolve inside cfg.SourceRoot. Local paths come back absolute.
func (s *Server) resolveHandles(handles []string) ([]string, error) {
	out := make([]string, len(handles))
	for i, h := range handles {
		h = strings.TrimSpace(h)
		if extract.IsRemote(h) {
			out[i] = h
			continue
		}
		if s.cfg.SourceRoot == "" {
			return nil, rag.Validationf("handle %q: only http(s) URLs are accepted, upload local files to /api/sources/upload", h)
		}
		p, err := confinePath(s.cfg.SourceRoot, h)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// resolveRoot returns the absolute, symlink-free form of dir.
func resolveRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return resolved, nil
}

// confinePath resolves handle against root and rejects anything that lands
// outside it, following symlinks when the target exists.
func confinePath(root, handle string) (string, error) {
	if handle == "" {
		return "", rag.Validationf("handle is empty")
	}
	if u, err := url.Parse(handle); err == nil && len(u.Scheme) > 1 {
		return "", rag.Validationf("handle %q: scheme %q is not supported", handle, u.Scheme)
	}
	p := handle
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", rag.Validationf("handle %q is outside the source root", handle)
	}
	return p, nil
}

// handleUpload handles POST /api/sources/upload. The multipart field "file"
// is spooled to a temp file that keeps its extension, extracted, and the
// text ingested under the uploaded file name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Extractor == nil {
		writeError(w, r, rag.Validationf("uploads are not enabled on this server"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, rag.Validationf("multipart field \"file\" is required: %v", err))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	tmp, err := os.CreateTemp("", "kbase-upload-*"+filepath.Ext(name))
	if err != nil {
		writeError(w, r, fmt.Errorf("server: create temp file: %w", err))
		return
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		writeError(w, r, rag.Validationf("read upload: %v", err))
		return
	}

	text, err := s.cfg.Extractor.Extract(r.Context(), tmp.Name())
	if err != nil {
		writeError(w, r, err)
		return
	}

	rep, err := s.engine.IngestSource(r.Context(), text, name)
	s.recordIngest(rep)
	s.refreshCorpusGauge()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, uploadResponse{Source: name, Report: rep, Stats: s.engine.Stats()})
}

// handleDone handles POST /api/session/done.
func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DoneIngesting(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.engine.Stats())
}

// handleReset handles POST /api/session/reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetSession(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	s.refreshCorpusGauge()
	writeJSON(w, r, http.StatusOK, s.engine.Stats())
}

// handleSession handles GET /api/session.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.engine.Stats())
}

// handleAsk handles POST /api/ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req askRequest
	if err := decodeBody(r, &req); err != nil {
		s.observeAsk(err, start)
		writeError(w, r, err)
		return
	}

	ans, err := s.engine.Ask(r.Context(), req.Query, req.K)
	s.observeAsk(err, start)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ans)
}

// observeAsk records the outcome and latency of one ask.
func (s *Server) observeAsk(err error, start time.Time) {
	outcome := rag.Kind(err)
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// handleHistory handles GET /api/history?n=<count>.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := defaultHistoryN
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, r, rag.Validationf("n must be a positive integer, got %q", raw))
			return
		}
		n = v
	}

	exchanges, err := s.engine.History(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if exchanges == nil {
		exchanges = []store.Exchange{}
	}
	writeJSON(w, r, http.StatusOK, historyResponse{SessionID: s.engine.Stats().SessionID, Exchanges: exchanges})
}
