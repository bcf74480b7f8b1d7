package ingestion

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy names a fragment splitting strategy.
type Policy string

const (
	// PolicySentence cuts after terminal punctuation followed by whitespace.
	PolicySentence Policy = "sentence"
	// PolicyParagraph cuts on blank lines.
	PolicyParagraph Policy = "paragraph"
	// PolicyLine cuts on every newline.
	PolicyLine Policy = "line"
)

// Splitter cuts raw text into fragments. Returned fragments are trimmed and
// contain at least one letter or digit.
type Splitter interface {
	Split(text string) []string
}

// NewSplitter returns the splitter for policy. An empty policy selects
// PolicySentence.
func NewSplitter(policy string) (Splitter, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(policy))) {
	case "", PolicySentence:
		return SentenceSplitter{}, nil
	case PolicyParagraph:
		return ParagraphSplitter{}, nil
	case PolicyLine:
		return LineSplitter{}, nil
	default:
		return nil, fmt.Errorf("ingestion: unknown split policy %q: valid values are sentence, paragraph, line", policy)
	}
}

// SentenceSplitter cuts after a run of '.', '!' or '?' when the next rune is
// whitespace. "3.14" and "e.g.x" stay whole; "Really?! Yes." yields two
// fragments.
type SentenceSplitter struct{}

// Split implements Splitter.
func (SentenceSplitter) Split(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isTerminal(r) {
			i += size
			continue
		}
		j := i + size
		for j < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !isTerminal(r2) {
				break
			}
			j += s2
		}
		if j < len(text) {
			if next, _ := utf8.DecodeRuneInString(text[j:]); unicode.IsSpace(next) {
				out = appendFragment(out, text[start:j])
				start = j
			}
		}
		i = j
	}
	return appendFragment(out, text[start:])
}

// blankLine matches a paragraph break: a newline, optional horizontal
// whitespace, and another newline.
var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

// ParagraphSplitter cuts on blank lines.
type ParagraphSplitter struct{}

// Split implements Splitter.
func (ParagraphSplitter) Split(text string) []string {
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		out = appendFragment(out, p)
	}
	return out
}

// LineSplitter cuts on every newline.
type LineSplitter struct{}

// Split implements Splitter.
func (LineSplitter) Split(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		out = appendFragment(out, l)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// appendFragment trims s and appends it unless it has no letter or digit.
func appendFragment(out []string, s string) []string {
	s = strings.TrimSpace(s)
	if strings.IndexFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
		return out
	}
	return append(out, s)
}
