// Package budget provides token estimation and input truncation for the
// summarizer. Summarization backends have different tokenizers, so the
// default Counter uses a conservative character heuristic:
// 1 token ≈ 4 characters (English prose). When the exact OpenAI tokenizer is
// wanted, NewCounter("cl100k_base") counts with tiktoken instead.
package budget

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead is the per-message token cost most chat APIs charge.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default summarizer input budget in
	// tokens. Fits 8k-context models while leaving room for the output.
	// Override via SUMMARY_MAX_INPUT_TOKENS.
	DefaultMaxContextTokens = 6000
)

// Counter counts and truncates text in tokens.
type Counter interface {
	// Name identifies the tokenizer, e.g. "heuristic" or "cl100k_base".
	Name() string
	// Count returns the number of tokens in s.
	Count(s string) int
	// Truncate returns the longest prefix of s that is at most maxTokens
	// tokens long.
	Truncate(s string, maxTokens int) string
}

// NewCounter returns the Counter for the named tokenizer. An empty name or
// "heuristic" selects the character heuristic. Any other name is loaded as a
// tiktoken encoding; if that fails the heuristic is returned together with
// the load error so the caller can warn and continue.
func NewCounter(name string) (Counter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "heuristic":
		return Heuristic{}, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return Heuristic{}, fmt.Errorf("budget: load tokenizer %q: %w", name, err)
	}
	return &Tiktoken{name: name, enc: enc}, nil
}

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// CountMessages returns the token count of msgs under c, including the
// per-message overhead.
func CountMessages(c Counter, msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += c.Count(string(m.Role))
		total += c.Count(m.Content)
	}
	return total
}

// Room returns the tokens left for the content of one more message with the
// given role after fixed, under maxTokens. It is negative when fixed alone
// overflows the budget.
func Room(c Counter, fixed []*schema.Message, role schema.RoleType, maxTokens int) int {
	return maxTokens - CountMessages(c, fixed) - messageOverhead - c.Count(string(role))
}

// FitText truncates text so that fixed plus one more message carrying text
// stays within maxTokens. It reports whether text was shortened. fixed holds
// messages that are never trimmed, such as the system prompt. If fixed alone
// exceeds the budget the returned text is empty.
func FitText(c Counter, fixed []*schema.Message, role schema.RoleType, text string, maxTokens int) (string, bool) {
	room := Room(c, fixed, role, maxTokens)
	if room <= 0 {
		return "", text != ""
	}
	if c.Count(text) <= room {
		return text, false
	}
	return c.Truncate(text, room), true
}

// Heuristic counts tokens as len/4 bytes.
type Heuristic struct{}

// Name implements Counter.
func (Heuristic) Name() string { return "heuristic" }

// Count implements Counter.
func (Heuristic) Count(s string) int { return Estimate(s) }

// Truncate implements Counter. The cut lands on a rune boundary and, when
// one is close, on whitespace so words are not split.
func (Heuristic) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * charsPerToken
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	cut := s[:limit]
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace)
}

// Tiktoken counts tokens with a tiktoken BPE encoding.
type Tiktoken struct {
	// name is the encoding name.
	name string

	// enc is the loaded encoding.
	enc *tiktoken.Tiktoken
}

// Name implements Counter.
func (t *Tiktoken) Name() string { return t.name }

// Count implements Counter.
func (t *Tiktoken) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// Truncate implements Counter.
func (t *Tiktoken) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= maxTokens {
		return s
	}
	return t.enc.Decode(tokens[:maxTokens])
}
