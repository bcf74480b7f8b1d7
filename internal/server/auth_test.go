package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		apiKey        string
		header        string
		wantCode      int
		wantChallenge string
	}{
		{name: "disabled", apiKey: "", header: "", wantCode: http.StatusOK},
		{name: "correct token", apiKey: "secret", header: "Bearer secret", wantCode: http.StatusOK},
		{name: "lowercase scheme", apiKey: "secret", header: "bearer secret", wantCode: http.StatusOK},
		{name: "missing header", apiKey: "secret", header: "", wantCode: http.StatusUnauthorized, wantChallenge: `Bearer realm="kbase"`},
		{name: "wrong token", apiKey: "secret", header: "Bearer nope", wantCode: http.StatusUnauthorized, wantChallenge: `Bearer realm="kbase", error="invalid_token"`},
		{name: "token prefix", apiKey: "secret", header: "Bearer secre", wantCode: http.StatusUnauthorized, wantChallenge: `Bearer realm="kbase", error="invalid_token"`},
		{name: "basic scheme", apiKey: "secret", header: "Basic dXNlcjpwYXNz", wantCode: http.StatusUnauthorized, wantChallenge: `Bearer realm="kbase"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/ask", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			authMiddleware(tt.apiKey, okHandler).ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK {
				return
			}
			if got := w.Header().Get("WWW-Authenticate"); got != tt.wantChallenge {
				t.Errorf("WWW-Authenticate = %q, want %q", got, tt.wantChallenge)
			}
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Kind != "unauthorized" {
				t.Errorf("kind = %q, want unauthorized", body.Kind)
			}
			if strings.Contains(body.Error, "nope") {
				t.Error("error body echoes the presented token")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header      string
		want        string
		wantPresent bool
	}{
		{"Bearer mytoken", "mytoken", true},
		{"BEARER mytoken", "mytoken", true},
		{"Bearer  spaced ", "spaced", true},
		{"Bearer ", "", false},
		{"Bearer", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got, present := bearerToken(req)
		if got != tc.want || present != tc.wantPresent {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tc.header, got, present, tc.want, tc.wantPresent)
		}
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := requestLogger(log, okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "client-trace-0001")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "client-trace-0001" {
		t.Errorf("inbound id not propagated: %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "bad id with spaces")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	got := w.Header().Get(requestIDHeader)
	if got == "bad id with spaces" || len(got) != 16 {
		t.Errorf("invalid inbound id should be replaced, got %q", got)
	}
}

func TestValidRequestID(t *testing.T) {
	t.Parallel()
	for id, want := range map[string]bool{
		"abcdef12":              true,
		"trace_ID-0001":         true,
		"short":                 false,
		"has space 123":         false,
		strings.Repeat("a", 65): false,
	} {
		if got := validRequestID(id); got != want {
			t.Errorf("validRequestID(%q) = %v, want %v", id, got, want)
		}
	}
}
