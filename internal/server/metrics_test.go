package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(newFakeEngine(), &Config{MetricsRegistry: reg, MetricsGatherer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s, reg
}

// counterValue returns the value of the named metric whose labels include
// all of want, or -1 if no such series exists.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if got[k] != v {
					continue metric
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return -1
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_AskOutcomeRecorded(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)
	h := s.Handler()

	done := httptest.NewRequest(http.MethodPost, "/api/session/done", nil)
	h.ServeHTTP(httptest.NewRecorder(), done)

	for _, body := range []string{`{"query":"What are cats?"}`, `{"query":"  "}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
		req.RemoteAddr = "127.0.0.1:1"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	if v := counterValue(t, reg, "kbase_ask_requests_total", map[string]string{"outcome": "ok"}); v != 1 {
		t.Errorf("kbase_ask_requests_total{outcome=ok} = %v, want 1", v)
	}
	if v := counterValue(t, reg, "kbase_ask_requests_total", map[string]string{"outcome": "validation"}); v != 1 {
		t.Errorf("kbase_ask_requests_total{outcome=validation} = %v, want 1", v)
	}
	if v := counterValue(t, reg, "kbase_http_requests_total", map[string]string{"handler": "ask", "code": "400"}); v != 1 {
		t.Errorf("kbase_http_requests_total{handler=ask,code=400} = %v, want 1", v)
	}
}

func Test_Metrics_IngestCountersAndGauge(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sources",
		strings.NewReader(`{"text":"Cats are mammals. Dogs bark.","source":"pets.txt"}`))
	req.RemoteAddr = "127.0.0.1:1"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}

	if v := counterValue(t, reg, "kbase_ingest_fragments_total", nil); v != 2 {
		t.Errorf("kbase_ingest_fragments_total = %v, want 2", v)
	}
	if v := counterValue(t, reg, "kbase_corpus_fragments", nil); v != 2 {
		t.Errorf("kbase_corpus_fragments = %v, want 2", v)
	}
}
