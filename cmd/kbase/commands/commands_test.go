package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/kbase-go/internal/rag"
)

// offlineEnv configures every backend to run without network access.
func offlineEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("SUMMARIZER_BACKEND", "extractive")
	t.Setenv("INDEX_BACKEND", "memory")
	t.Setenv("KBASE_HISTORY_DB", "disabled")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LOG_LEVEL", "error")

	cfg := filepath.Join(t.TempDir(), "kbase.yaml")
	if err := os.WriteFile(cfg, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAsk_TextSources(t *testing.T) {
	cfg := offlineEnv(t)

	out, err := run(t, "--config", cfg, "ask",
		"--text", "Cats are mammals. Dogs bark loudly.",
		"-k", "2", "what are cats?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	for _, want := range []string{"Summary:", "Context (2 fragments):", "Cats are mammals.", "source=text-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAsk_FileSourceJSON(t *testing.T) {
	cfg := offlineEnv(t)
	path := filepath.Join(t.TempDir(), "pets.md")
	if err := os.WriteFile(path, []byte("Cats are mammals.\n\nParrots can talk."), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--config", cfg, "ask", "-s", path, "--json", "-k", "1", "which birds talk?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	var ans struct {
		SessionID string       `json:"session_id"`
		Query     string       `json:"query"`
		Results   []rag.Result `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &ans); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if ans.SessionID == "" || ans.Query != "which birds talk?" {
		t.Errorf("answer = %+v", ans)
	}
	if len(ans.Results) != 1 || ans.Results[0].Fragment.SourceRef != path {
		t.Errorf("results = %+v", ans.Results)
	}
}

func TestAsk_RequiresSources(t *testing.T) {
	cfg := offlineEnv(t)
	_, err := run(t, "--config", cfg, "ask", "anything?")
	if err == nil || !strings.Contains(err.Error(), "--source or --text") {
		t.Errorf("err = %v, want missing sources error", err)
	}
}

func TestAsk_UnknownIndexBackend(t *testing.T) {
	cfg := offlineEnv(t)
	t.Setenv("INDEX_BACKEND", "faiss")
	_, err := run(t, "--config", cfg, "ask", "--text", "x y z", "q?")
	if err == nil || !strings.Contains(err.Error(), `unknown backend "faiss"`) {
		t.Errorf("err = %v, want unknown backend error", err)
	}
}

func TestVersionCmd(t *testing.T) {
	cfg := offlineEnv(t)
	out, err := run(t, "--config", cfg, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "kbase ") {
		t.Errorf("version output = %q", out)
	}
}

func TestBuildRuntime_Pingers(t *testing.T) {
	offlineEnv(t)
	rt, err := buildRuntime(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	defer func() { _ = rt.Close() }()

	// Only the embedder is probed: memory index, extractive summarizer.
	if len(rt.pingers) != 1 || rt.pingers[0].Name() != "embedder" {
		t.Errorf("pingers = %v", rt.pingers)
	}
	if err := rt.pingers[0].Ping(context.Background()); err != nil {
		t.Errorf("embedder ping: %v", err)
	}
	if rt.extractor == nil || len(rt.extractor.Kinds()) == 0 {
		t.Error("extractor registry is empty")
	}
}

func TestOpenHistory(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Setenv("KBASE_HISTORY_DB", "disabled")
	if hs := openHistory(log); hs != nil {
		t.Error("openHistory() returned a store while disabled")
	}

	t.Setenv("KBASE_HISTORY_DB", filepath.Join(t.TempDir(), "h.db"))
	hs := openHistory(log)
	if hs == nil {
		t.Fatal("openHistory() = nil for a writable path")
	}
	_ = hs.Close()
}

func TestOpenLogFile(t *testing.T) {
	w, closeFn, err := openLogFile("")
	if err != nil || w != io.Discard {
		t.Fatalf("openLogFile(\"\") = %v, %v", w, err)
	}
	closeFn()

	path := filepath.Join(t.TempDir(), "logs", "tui.log")
	w, closeFn, err = openLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.WriteString(w, "line\n")
	closeFn()
	if b, _ := os.ReadFile(path); string(b) != "line\n" {
		t.Errorf("log file = %q", b)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("KB_TEST_INT", "7")
	t.Setenv("KB_TEST_BAD", "x")
	t.Setenv("KB_TEST_DUR", "2s")
	t.Setenv("KB_TEST_BOOL", "true")

	if got := getEnvInt("KB_TEST_INT", 1); got != 7 {
		t.Errorf("getEnvInt = %d", got)
	}
	if got := getEnvInt("KB_TEST_BAD", 1); got != 1 {
		t.Errorf("getEnvInt(bad) = %d", got)
	}
	if got := getEnvDuration("KB_TEST_DUR", 0); got.Seconds() != 2 {
		t.Errorf("getEnvDuration = %v", got)
	}
	if !getEnvBool("KB_TEST_BOOL") || getEnvBool("KB_TEST_MISSING") {
		t.Error("getEnvBool mismatch")
	}
	if got := getEnvOrDefault("KB_TEST_MISSING", "d"); got != "d" {
		t.Errorf("getEnvOrDefault = %q", got)
	}
}
