package extract

import (
	"archive/zip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/kbase-go/internal/rag"
)

func TestDetectKind(t *testing.T) {
	t.Parallel()

	cases := map[string]Kind{
		"notes.txt":                          KindText,
		"README.MD":                          KindText,
		"data/table.csv":                     KindCSV,
		"page.html":                          KindHTML,
		"/tmp/report.pdf":                    KindPDF,
		"letter.docx":                        KindDOCX,
		"talk.mp3":                           KindMedia,
		"clip.MP4":                           KindMedia,
		"https://example.com/docs/intro":     KindURL,
		"https://example.com/index.html":     KindURL,
		"https://example.com/paper.pdf?x=1":  KindPDF,
		"http://example.com/podcast/ep1.mp3": KindMedia,
		"archive.tar.gz":                     KindUnknown,
		"":                                   KindUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, DetectKind(in), in)
	}
}

func TestCheckOutput(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{
		"Error: file not found",
		"  error: could not decode",
		"ERROR reading stream",
		"Exception in thread main",
		"Traceback (most recent call last):\n  File x",
		"Failed to open document",
		"   \n\t",
	} {
		_, err := CheckOutput("src", bad)
		require.Error(t, err, bad)
		assert.ErrorIs(t, err, rag.ErrExtraction, bad)
	}

	out, err := CheckOutput("src", "The error rate fell. Nothing failed.")
	require.NoError(t, err)
	assert.Equal(t, "The error rate fell. Nothing failed.", out)
}

func TestFromLegacy(t *testing.T) {
	t.Parallel()

	e := FromLegacy(func(h string) string {
		if h == "bad" {
			return "Error: cannot read bad"
		}
		return "Content of " + h + "."
	})

	got, err := e.Extract(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "Content of good.", got)

	_, err = e.Extract(context.Background(), "bad")
	assert.ErrorIs(t, err, rag.ErrExtraction)
	assert.Equal(t, "extraction", rag.Kind(err))
}

func TestRegistry_Extract(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	txt := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(txt, []byte("Plain text here."), 0o600))

	r := NewRegistry()
	r.Register(KindText, Func(ReadText))
	r.Register(KindPDF, Func(func(context.Context, string) (string, error) {
		return "", errors.New("corrupt xref table")
	}))

	got, err := r.Extract(context.Background(), txt)
	require.NoError(t, err)
	assert.Equal(t, "Plain text here.", got)

	_, err = r.Extract(context.Background(), filepath.Join(dir, "x.pdf"))
	assert.ErrorIs(t, err, rag.ErrExtraction)
	assert.Contains(t, err.Error(), "corrupt xref table")

	_, err = r.Extract(context.Background(), filepath.Join(dir, "x.docx"))
	assert.ErrorIs(t, err, rag.ErrExtraction)
	assert.Contains(t, err.Error(), "unsupported")

	_, err = r.Extract(context.Background(), filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, rag.ErrExtraction)
}

func TestRegistry_CanceledContextIsNotExtractionError(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(KindText, Func(func(ctx context.Context, _ string) (string, error) {
		return "", ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Extract(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, rag.ErrExtraction)
}

func TestRegistry_DownloadsRemoteFiles(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("name,age\nAda,36\n"))
	}))
	defer srv.Close()

	r := NewRegistry()
	var seen string
	r.Register(KindCSV, Func(func(ctx context.Context, path string) (string, error) {
		seen = path
		return ReadCSV(ctx, path)
	}))

	got, err := r.Extract(context.Background(), srv.URL+"/people.csv")
	require.NoError(t, err)
	assert.Equal(t, "name: Ada, age: 36.\n", got)
	assert.True(t, strings.HasSuffix(seen, ".csv"))
	_, statErr := os.Stat(seen)
	assert.True(t, os.IsNotExist(statErr), "temporary download must be removed")

	_, err = r.Extract(context.Background(), srv.URL+"/missing.csv")
	assert.ErrorIs(t, err, rag.ErrExtraction)
}

func TestRegistry_OversizedDownloadIsRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/exact.csv":
			_, _ = w.Write([]byte("a,b\n1,2\n"))
		default:
			_, _ = w.Write([]byte("a,b\n1,2\n3,4\n"))
		}
	}))
	defer srv.Close()

	r := NewRegistry()
	r.maxBytes = 8
	called := false
	r.Register(KindCSV, Func(func(ctx context.Context, path string) (string, error) {
		called = true
		return ReadCSV(ctx, path)
	}))

	_, err := r.Extract(context.Background(), srv.URL+"/big.csv")
	require.ErrorIs(t, err, rag.ErrExtraction)
	assert.Contains(t, err.Error(), "exceeds 8 bytes")
	assert.False(t, called, "a truncated document must not reach the extractor")

	got, err := r.Extract(context.Background(), srv.URL+"/exact.csv")
	require.NoError(t, err)
	assert.Equal(t, "a: 1, b: 2.\n", got)
}

func TestReadCSV(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "t.tsv")
	require.NoError(t, os.WriteFile(path, []byte("city\tcountry\nParis\tFrance\n\t\nOslo\t\n"), 0o600))

	got, err := ReadCSV(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "city: Paris, country: France.\ncity: Oslo.\n", got)
}

func TestReadDOCX(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "d.docx")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
<w:p><w:r><w:t>Second</w:t></w:r><w:r><w:tab/><w:t>one.</w:t></w:r></w:p>
</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	got, err := ReadDOCX(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\nSecond\tone.\n", got)
}

func TestHTMLText(t *testing.T) {
	t.Parallel()
	page := `<html><head><title>T</title><style>p{}</style></head><body>
<nav>Menu</nav>
<h1>Cats</h1>
<p>Cats are   <b>mammals</b>.</p>
<script>var x = 1;</script>
<ul><li>One.</li><li>Two.</li></ul>
</body></html>`

	got, err := HTMLText(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "Cats\nCats are mammals .\nOne.\nTwo.", got)
}

func TestWebPage_Extract(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("Just text."))
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<p>Hello page.</p>"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	wp := NewWebPage()
	got, err := wp.Extract(context.Background(), srv.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "Just text.", got)

	got, err = wp.Extract(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "Hello page.", got)

	_, err = wp.Extract(context.Background(), srv.URL+"/boom")
	assert.Error(t, err)
}
