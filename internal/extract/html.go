package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are subtrees whose text is never content.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Iframe:   true,
}

// blockElements end the current line when they close.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Section: true, atom.Article: true, atom.Blockquote: true,
	atom.Pre: true, atom.Title: true, atom.Dd: true, atom.Dt: true,
}

// HTMLText parses an HTML document and returns its visible text, one block
// element per line.
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				b.WriteString(s)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n"), nil
}

// ReadHTML extracts visible text from an HTML file on disk.
func ReadHTML(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return HTMLText(f)
}

// WebPage fetches pages over HTTP(S) and extracts their visible text.
type WebPage struct {
	// client performs the fetch.
	client *http.Client

	// userAgent is sent with every request.
	userAgent string

	// maxBytes caps the response body read.
	maxBytes int64
}

// NewWebPage returns a WebPage extractor with a 30s request timeout.
func NewWebPage() *WebPage {
	return &WebPage{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "kbase/1.0 (+https://github.com/54b3r/kbase-go)",
		maxBytes:  10 << 20,
	}
}

// Extract implements Extractor.
func (w *WebPage) Extract(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, w.maxBytes)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		b, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", rawURL, err)
		}
		return string(b), nil
	}
	return HTMLText(body)
}
