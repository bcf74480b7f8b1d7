package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/session"
	"github.com/54b3r/kbase-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fake engine
// ---------------------------------------------------------------------------

// fakeEngine is an in-memory Engine that splits sentences and answers with
// every stored fragment. askErr, when set, is returned by Ask.
type fakeEngine struct {
	mu      sync.Mutex
	id      int
	phase   session.Phase
	frags   []string
	history []store.Exchange
	askErr  error
	handles []string
}

func newFakeEngine() *fakeEngine { return &fakeEngine{id: 1} }

func (f *fakeEngine) sessionID() string { return fmt.Sprintf("s%d", f.id) }

func (f *fakeEngine) IngestSource(_ context.Context, raw, _ string) (ingestion.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != session.PhaseIngest {
		return ingestion.Report{}, fmt.Errorf("fake: %w", rag.ErrWrongPhase)
	}
	parts := ingestion.SentenceSplitter{}.Split(raw)
	f.frags = append(f.frags, parts...)
	return ingestion.Report{Fragments: len(parts), Added: len(parts)}, nil
}

func (f *fakeEngine) IngestHandles(ctx context.Context, handles []string) ([]session.SourceOutcome, error) {
	f.mu.Lock()
	f.handles = append(f.handles, handles...)
	f.mu.Unlock()
	out := make([]session.SourceOutcome, len(handles))
	for i, h := range handles {
		out[i].Source = h
		if strings.HasPrefix(filepath.Base(h), "missing") {
			out[i].Error = "extract: not found"
			continue
		}
		rep, err := f.IngestSource(ctx, "Handle "+h+" text.", h)
		if err != nil {
			return nil, err
		}
		out[i].Report = rep
	}
	return out, nil
}

func (f *fakeEngine) DoneIngesting(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phase = session.PhaseQuery
	return nil
}

func (f *fakeEngine) Ask(_ context.Context, query string, k int) (session.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(query) == "" {
		return session.Answer{}, rag.Validationf("query must not be empty")
	}
	if f.phase != session.PhaseQuery {
		return session.Answer{}, fmt.Errorf("fake: %w", rag.ErrWrongPhase)
	}
	if f.askErr != nil {
		return session.Answer{}, f.askErr
	}
	ctx := strings.Join(f.frags, "\n")
	if ctx == "" {
		ctx = rag.NoDocumentsAvailable
	}
	ans := session.Answer{SessionID: f.sessionID(), Query: query, Context: ctx, Summary: "summary: " + ctx}
	f.history = append(f.history, store.Exchange{SessionID: ans.SessionID, Query: query, Context: ctx, Summary: ans.Summary})
	return ans, nil
}

func (f *fakeEngine) ResetSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id++
	f.phase = session.PhaseIngest
	f.frags = nil
	return nil
}

func (f *fakeEngine) Stats() session.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Stats{SessionID: f.sessionID(), Phase: f.phase, Fragments: len(f.frags), Vectors: len(f.frags)}
}

func (f *fakeEngine) History(_ context.Context, n int) ([]store.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Exchange
	for _, e := range f.history {
		if e.SessionID == f.sessionID() {
			out = append(out, e)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// newTestServer builds a minimal *Server for direct handler tests.
func newTestServer() *Server {
	return &Server{
		engine:  newFakeEngine(),
		cfg:     &Config{MaxUploadBytes: defaultMaxUploadBytes},
		log:     slog.Default(),
		metrics: newServerMetrics(prometheus.NewRegistry()),
	}
}

// newAPITestServer builds a fully routed server around eng.
func newAPITestServer(t *testing.T, eng Engine, cfg *Config) http.Handler {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	reg := prometheus.NewRegistry()
	cfg.MetricsRegistry, cfg.MetricsGatherer = reg, reg
	cfg.RateLimit, cfg.RateBurst = 1000, 1000
	s, err := New(eng, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s.Handler()
}

// do sends a request through h and returns the recorder.
func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Session flow
// ---------------------------------------------------------------------------

func TestAPI_IngestDoneAsk(t *testing.T) {
	t.Parallel()
	h := newAPITestServer(t, newFakeEngine(), nil)

	w := do(h, http.MethodPost, "/api/sources", `{"text":"Cats are mammals. Dogs bark.","source":"pets.txt"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("sources: want 200, got %d: %s", w.Code, w.Body.String())
	}
	var src sourcesResponse
	if err := json.NewDecoder(w.Body).Decode(&src); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if src.Report == nil || src.Report.Added != 2 || src.Stats.Fragments != 2 {
		t.Errorf("unexpected sources response %+v", src)
	}

	if w := do(h, http.MethodPost, "/api/ask", `{"query":"What are cats?"}`); w.Code != http.StatusConflict {
		t.Errorf("ask before done: want 409, got %d", w.Code)
	}

	w = do(h, http.MethodPost, "/api/session/done", "")
	var st session.Stats
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Phase != session.PhaseQuery {
		t.Errorf("phase = %v, want query", st.Phase)
	}

	w = do(h, http.MethodPost, "/api/ask", `{"query":"What are cats?","k":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("ask: want 200, got %d: %s", w.Code, w.Body.String())
	}
	var ans map[string]any
	if err := json.NewDecoder(w.Body).Decode(&ans); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	for _, key := range []string{"context", "summary", "results"} {
		if _, ok := ans[key]; !ok {
			t.Errorf("answer missing %q: %v", key, ans)
		}
	}
	if !strings.Contains(ans["context"].(string), "Cats are mammals.") {
		t.Errorf("context = %q", ans["context"])
	}

	if w := do(h, http.MethodPost, "/api/sources", `{"text":"More."}`); w.Code != http.StatusConflict {
		t.Errorf("ingest after done: want 409, got %d", w.Code)
	}
}

func TestAPI_Handles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	eng := newFakeEngine()
	h := newAPITestServer(t, eng, &Config{SourceRoot: root})

	w := do(h, http.MethodPost, "/api/sources", `{"handles":["a.txt","missing.pdf"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var resp sourcesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Outcomes) != 2 {
		t.Fatalf("want 2 outcomes, got %d", len(resp.Outcomes))
	}
	if resp.Outcomes[0].Report.Added != 1 || resp.Outcomes[1].Error == "" {
		t.Errorf("unexpected outcomes %+v", resp.Outcomes)
	}
	for _, got := range eng.handles {
		if !filepath.IsAbs(got) {
			t.Errorf("handle %q was not resolved to an absolute path", got)
		}
	}
}

func TestAPI_HandlesRejectLocalPathsWithoutRoot(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	h := newAPITestServer(t, eng, nil)

	for _, body := range []string{
		`{"handles":["/etc/passwd"]}`,
		`{"handles":["notes.txt"]}`,
		`{"handles":["file:///etc/passwd"]}`,
		`{"handles":["https://example.com/a.pdf","/etc/passwd"]}`,
	} {
		w := do(h, http.MethodPost, "/api/sources", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: want 400, got %d", body, w.Code)
		}
	}
	if len(eng.handles) != 0 {
		t.Errorf("engine received handles %v", eng.handles)
	}

	w := do(h, http.MethodPost, "/api/sources", `{"handles":["https://example.com/a.pdf"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("url handle: want 200, got %d", w.Code)
	}
	if len(eng.handles) != 1 || eng.handles[0] != "https://example.com/a.pdf" {
		t.Errorf("engine received handles %v", eng.handles)
	}
}

func TestAPI_HandlesConfinedToSourceRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	eng := newFakeEngine()
	h := newAPITestServer(t, eng, &Config{SourceRoot: root})

	for _, handle := range []string{
		"../secret.txt",
		"docs/../../secret.txt",
		"/etc/passwd",
		"escape",
		"ftp://example.com/a.txt",
	} {
		body, _ := json.Marshal(sourcesRequest{Handles: []string{handle}})
		w := do(h, http.MethodPost, "/api/sources", string(body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("handle %q: want 400, got %d", handle, w.Code)
		}
	}
	if len(eng.handles) != 0 {
		t.Errorf("engine received handles %v", eng.handles)
	}
}

func TestNew_RejectsMissingSourceRoot(t *testing.T) {
	t.Parallel()
	_, err := New(newFakeEngine(), &Config{
		SourceRoot:      filepath.Join(t.TempDir(), "absent"),
		MetricsRegistry: prometheus.NewRegistry(),
	})
	if err == nil {
		t.Fatal("expected error for missing source root")
	}
}

func TestAPI_SourcesRejectTextWithHandles(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	h := newAPITestServer(t, eng, nil)

	w := do(h, http.MethodPost, "/api/sources", `{"text":"Inline.","handles":["https://example.com/a.pdf"]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", w.Code)
	}
	if st := eng.Stats(); st.Fragments != 0 || len(eng.handles) != 0 {
		t.Errorf("nothing should be ingested, got %d fragments and handles %v", st.Fragments, eng.handles)
	}
}

func TestAPI_SourcesValidation(t *testing.T) {
	t.Parallel()
	h := newAPITestServer(t, newFakeEngine(), nil)

	for _, body := range []string{`{}`, `{"text":"   "}`, `not json`, `{"txt":"typo"}`} {
		w := do(h, http.MethodPost, "/api/sources", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: want 400, got %d", body, w.Code)
		}
		var er errorResponse
		if err := json.NewDecoder(w.Body).Decode(&er); err != nil || er.Kind != "validation" {
			t.Errorf("body %q: want validation error body, got %+v (%v)", body, er, err)
		}
	}
}

func TestAPI_ResetStartsNewSession(t *testing.T) {
	t.Parallel()
	h := newAPITestServer(t, newFakeEngine(), nil)

	do(h, http.MethodPost, "/api/sources", `{"text":"Cats are mammals."}`)
	do(h, http.MethodPost, "/api/session/done", "")
	do(h, http.MethodPost, "/api/ask", `{"query":"cats?"}`)

	w := do(h, http.MethodPost, "/api/session/reset", "")
	var st session.Stats
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.SessionID != "s2" || st.Phase != session.PhaseIngest || st.Fragments != 0 {
		t.Errorf("unexpected stats after reset %+v", st)
	}

	w = do(h, http.MethodGet, "/api/history", "")
	var hist historyResponse
	if err := json.NewDecoder(w.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hist.Exchanges == nil || len(hist.Exchanges) != 0 {
		t.Errorf("want empty non-nil history, got %+v", hist.Exchanges)
	}
}

func TestAPI_History(t *testing.T) {
	t.Parallel()
	h := newAPITestServer(t, newFakeEngine(), nil)
	do(h, http.MethodPost, "/api/session/done", "")
	for _, q := range []string{"one?", "two?", "three?"} {
		do(h, http.MethodPost, "/api/ask", `{"query":"`+q+`"}`)
	}

	w := do(h, http.MethodGet, "/api/history?n=2", "")
	var hist historyResponse
	if err := json.NewDecoder(w.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hist.Exchanges) != 2 || hist.Exchanges[0].Query != "two?" {
		t.Errorf("unexpected history %+v", hist.Exchanges)
	}

	for _, n := range []string{"0", "-1", "x"} {
		if w := do(h, http.MethodGet, "/api/history?n="+n, ""); w.Code != http.StatusBadRequest {
			t.Errorf("n=%s: want 400, got %d", n, w.Code)
		}
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", rag.ErrModel), http.StatusBadGateway},
		{fmt.Errorf("x: %w: %w", rag.ErrTimeout, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{rag.NotFoundf("fragment 9"), http.StatusNotFound},
		{fmt.Errorf("x: %w", rag.ErrExtraction), http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		eng := newFakeEngine()
		eng.phase = session.PhaseQuery
		eng.askErr = tt.err
		h := newAPITestServer(t, eng, nil)
		if w := do(h, http.MethodPost, "/api/ask", `{"query":"q"}`); w.Code != tt.want {
			t.Errorf("%v: want %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}

func TestAPI_AuthProtectsAPIButNotHealth(t *testing.T) {
	t.Parallel()
	h := newAPITestServer(t, newFakeEngine(), &Config{APIKey: "secret"})

	if w := do(h, http.MethodGet, "/api/session", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("session without token: want 401, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("health: want 200, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/ready", ""); w.Code != http.StatusOK {
		t.Errorf("ready: want 200, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("session with token: want 200, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/sources/upload
// ---------------------------------------------------------------------------

func multipartBody(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte(content))
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleUpload(t *testing.T) {
	t.Parallel()

	var seenPath string
	ex := extract.Func(func(_ context.Context, handle string) (string, error) {
		seenPath = handle
		b, err := os.ReadFile(handle)
		return string(b), err
	})
	s := newTestServer()
	s.cfg.Extractor = ex

	body, ct := multipartBody(t, "notes.md", "Cats are mammals. Cats purr.")
	req := httptest.NewRequest(http.MethodPost, "/api/sources/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.handleUpload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp uploadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Source != "notes.md" || resp.Report.Added != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.HasSuffix(seenPath, ".md") {
		t.Errorf("temp file %q should keep the .md extension", seenPath)
	}
	if _, err := os.Stat(seenPath); !os.IsNotExist(err) {
		t.Errorf("temp file %q should be removed", seenPath)
	}
}

func TestHandleUpload_Errors(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		s := newTestServer()
		body, ct := multipartBody(t, "a.txt", "x")
		req := httptest.NewRequest(http.MethodPost, "/api/sources/upload", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		s.handleUpload(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("want 400, got %d", w.Code)
		}
	})

	t.Run("missing file field", func(t *testing.T) {
		t.Parallel()
		s := newTestServer()
		s.cfg.Extractor = extract.Func(func(context.Context, string) (string, error) { return "x", nil })
		req := httptest.NewRequest(http.MethodPost, "/api/sources/upload", strings.NewReader("plain"))
		w := httptest.NewRecorder()
		s.handleUpload(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("want 400, got %d", w.Code)
		}
	})

	t.Run("extraction failure", func(t *testing.T) {
		t.Parallel()
		s := newTestServer()
		s.cfg.Extractor = extract.Func(func(context.Context, string) (string, error) {
			return "", fmt.Errorf("extract: %w: corrupt", rag.ErrExtraction)
		})
		body, ct := multipartBody(t, "a.pdf", "%PDF-broken")
		req := httptest.NewRequest(http.MethodPost, "/api/sources/upload", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		s.handleUpload(w, req)
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("want 422, got %d", w.Code)
		}
	})
}

func TestNew_RequiresEngine(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil engine")
	}
}
