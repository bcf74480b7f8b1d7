// Package textutil holds the word tokenizer and stopword list shared by the
// offline embedder and the extractive summarizer.
package textutil

import (
	"regexp"
	"strings"
)

// tokenPattern matches a run of letters, allowing inner apostrophes
// ("don't", "l’homme").
var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Tokens returns the lowercased word tokens of text.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// ContentTokens returns Tokens(text) without stopwords.
func ContentTokens(text string) []string {
	toks := Tokens(text)
	out := toks[:0]
	for _, t := range toks {
		if !IsStopword(t) {
			out = append(out, t)
		}
	}
	return out
}

// IsStopword reports whether the lowercased token w carries no topical
// meaning.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these",
		"those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into",
		"about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own",
		"same", "too", "very", "can", "will", "just", "don", "should", "now", "what", "which", "who", "whom",
		"do", "does", "did", "how", "why", "when", "where", "i", "you", "he", "she", "we", "they", "me", "my",
		"your", "our", "their", "there", "here", "not", "no", "also", "has", "have", "had",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
