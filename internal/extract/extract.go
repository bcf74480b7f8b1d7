// Package extract turns source handles (file paths and URLs) into raw text
// for the ingestion pipeline. Each source kind has its own Extractor; the
// Registry picks one by kind and checks the output before it reaches the
// core, so an error description never gets ingested as content.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/rag"
)

// Extractor returns the raw text behind a source handle.
type Extractor interface {
	Extract(ctx context.Context, handle string) (string, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, handle string) (string, error)

// Extract implements Extractor.
func (f Func) Extract(ctx context.Context, handle string) (string, error) {
	return f(ctx, handle)
}

// FromLegacy adapts an extractor that reports failure by returning a
// human-readable error string instead of an error value. The output is
// passed through CheckOutput so such strings surface as ErrExtraction.
func FromLegacy(fn func(handle string) string) Extractor {
	return Func(func(ctx context.Context, handle string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return CheckOutput(handle, fn(handle))
	})
}

// errorPrefixes are the leading markers of an extractor output that
// describes a failure rather than content.
var errorPrefixes = []string{
	"Error:",
	"error:",
	"ERROR",
	"Exception",
	"Traceback",
	"Failed to",
}

// CheckOutput validates extractor output. Output that starts with an error
// marker, or that is blank, is converted to an ErrExtraction error.
func CheckOutput(handle, out string) (string, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return "", fmt.Errorf("extract: %s: %w: no text extracted", handle, rag.ErrExtraction)
	}
	for _, p := range errorPrefixes {
		if strings.HasPrefix(trimmed, p) {
			first, _, _ := strings.Cut(trimmed, "\n")
			return "", fmt.Errorf("extract: %s: %w: %s", handle, rag.ErrExtraction, first)
		}
	}
	return out, nil
}

// Registry dispatches handles to the extractor registered for their kind.
type Registry struct {
	// extractors maps each supported kind to its extractor.
	extractors map[Kind]Extractor

	// client downloads remote documents that need a file-based extractor.
	client *http.Client

	// maxBytes caps the size of a downloaded document.
	maxBytes int64
}

// NewRegistry returns an empty Registry. Remote downloads use a 60s client
// and are capped at 50 MiB.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[Kind]Extractor),
		client:     &http.Client{Timeout: 60 * time.Second},
		maxBytes:   50 << 20,
	}
}

// Register installs e as the extractor for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, e Extractor) {
	r.extractors[kind] = e
}

// Kinds returns the kinds that have an extractor registered.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.extractors))
	for k := range r.extractors {
		out = append(out, k)
	}
	return out
}

// Extract detects the handle's kind, runs the matching extractor and checks
// its output. Every failure matches rag.ErrExtraction except context
// cancellation, which is returned as is.
func (r *Registry) Extract(ctx context.Context, handle string) (string, error) {
	log := logging.FromContext(ctx)
	kind := DetectKind(handle)

	e, ok := r.extractors[kind]
	if !ok {
		return "", fmt.Errorf("extract: %s: %w: unsupported source kind %q", handle, rag.ErrExtraction, kind)
	}

	local := handle
	if kind != KindURL && IsRemote(handle) {
		tmp, err := r.download(ctx, handle)
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp)
		local = tmp
	}

	start := time.Now()
	out, err := e.Extract(ctx, local)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("extract: %s: %w: %w", handle, rag.ErrExtraction, err)
	}

	text, err := CheckOutput(handle, out)
	if err != nil {
		return "", err
	}
	log.Debug("extract: source extracted",
		slog.String("source", handle),
		slog.String("kind", string(kind)),
		slog.Int("chars", len(text)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}

// download fetches a remote document into a temporary file that keeps the
// URL's extension, and returns the file path.
func (r *Registry) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("extract: %s: %w: %w", rawURL, rag.ErrExtraction, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("extract: download %s: %w: %w", rawURL, rag.ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extract: download %s: %w: status %d", rawURL, rag.ErrExtraction, resp.StatusCode)
	}

	ext := path.Ext(req.URL.Path)
	f, err := os.CreateTemp("", "kbase-download-*"+ext)
	if err != nil {
		return "", fmt.Errorf("extract: create temp file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		os.Remove(f.Name())
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("extract: download %s: %w: %w", rawURL, rag.ErrExtraction, err)
	}
	if n > r.maxBytes {
		os.Remove(f.Name())
		return "", fmt.Errorf("extract: download %s: %w: document exceeds %d bytes", rawURL, rag.ErrExtraction, r.maxBytes)
	}
	return f.Name(), nil
}
