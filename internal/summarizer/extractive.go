package summarizer

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/textutil"
)

// Extractive ranks sentences by normalised content-word frequency and keeps
// the best ones in their original order. It never fails and needs no model.
type Extractive struct {
	// maxSentences is the number of sentences kept.
	maxSentences int

	// splitter cuts the input into sentences.
	splitter ingestion.Splitter
}

// NewExtractive returns an Extractive summarizer keeping maxSentences
// sentences (3 if zero or negative).
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Extractive{maxSentences: maxSentences, splitter: ingestion.SentenceSplitter{}}
}

// Summarize implements rag.Summarizer.
func (e *Extractive) Summarize(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var sentences []string
	for _, line := range strings.Split(text, "\n") {
		sentences = append(sentences, e.splitter.Split(line)...)
	}
	if len(sentences) <= e.maxSentences {
		return strings.Join(sentences, " "), nil
	}

	tokens := make([][]string, len(sentences))
	freq := map[string]float64{}
	for i, s := range sentences {
		tokens[i] = textutil.ContentTokens(s)
		for _, t := range tokens[i] {
			freq[t]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i := range sentences {
		sum := 0.0
		for _, t := range tokens[i] {
			sum += freq[t]
		}
		// Dampen the advantage of long sentences.
		if n := len(tokens[i]); n > 0 {
			sum /= math.Sqrt(float64(n))
		}
		scores[i] = scored{i, sum}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	keep := make([]int, e.maxSentences)
	for i := range keep {
		keep[i] = scores[i].idx
	}
	sort.Ints(keep)

	out := make([]string, len(keep))
	for i, idx := range keep {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}
