package extract

import (
	"net/url"
	"path"
	"strings"
)

// Kind classifies a source handle so the registry can pick an extractor.
type Kind string

const (
	// KindText is a plain text or markdown file.
	KindText Kind = "text"
	// KindCSV is a comma-separated values file.
	KindCSV Kind = "csv"
	// KindHTML is an HTML file on disk.
	KindHTML Kind = "html"
	// KindURL is a web page fetched over HTTP(S).
	KindURL Kind = "url"
	// KindPDF is a PDF document.
	KindPDF Kind = "pdf"
	// KindDOCX is an Office Open XML word document.
	KindDOCX Kind = "docx"
	// KindMedia is an audio or video file that must be transcribed.
	KindMedia Kind = "media"
	// KindUnknown is returned when no rule matches.
	KindUnknown Kind = "unknown"
)

// extensionKinds maps lowercase file extensions to their kind.
var extensionKinds = map[string]Kind{
	".txt":      KindText,
	".md":       KindText,
	".markdown": KindText,
	".rst":      KindText,
	".log":      KindText,
	".srt":      KindText,
	".vtt":      KindText,
	".csv":      KindCSV,
	".tsv":      KindCSV,
	".html":     KindHTML,
	".htm":      KindHTML,
	".pdf":      KindPDF,
	".docx":     KindDOCX,
	".mp3":      KindMedia,
	".wav":      KindMedia,
	".m4a":      KindMedia,
	".ogg":      KindMedia,
	".flac":     KindMedia,
	".webm":     KindMedia,
	".mp4":      KindMedia,
	".mpeg":     KindMedia,
	".mpga":     KindMedia,
	".mov":      KindMedia,
}

// DetectKind inspects a handle (file path or URL) and returns its kind.
//
// HTTP(S) URLs are KindURL unless their path ends in an extension with a
// dedicated extractor (for example a linked PDF), in which case that kind is
// returned and the extractor is expected to download the resource itself.
func DetectKind(handle string) Kind {
	h := strings.TrimSpace(handle)
	if h == "" {
		return KindUnknown
	}

	if u, err := url.Parse(h); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		if k, ok := extensionKinds[strings.ToLower(path.Ext(u.Path))]; ok && k != KindHTML && k != KindText {
			return k
		}
		return KindURL
	}

	if k, ok := extensionKinds[strings.ToLower(path.Ext(h))]; ok {
		return k
	}
	return KindUnknown
}

// IsRemote reports whether handle is an HTTP(S) URL.
func IsRemote(handle string) bool {
	u, err := url.Parse(strings.TrimSpace(handle))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
