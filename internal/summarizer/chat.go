// Package summarizer condenses retrieved context into an answer. The LLM
// summarizer sends the context to a chat model; the extractive summarizer
// ranks sentences locally and needs no model at all.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbase-go/internal/budget"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/rag"
)

// DefaultSystemPrompt instructs the model to summarize abstractively and to
// stay within the provided text.
const DefaultSystemPrompt = `You summarize passages retrieved from a user's documents.
Write a short, self-contained summary of the text you are given.
Use only facts stated in the text. Do not add outside knowledge.
If the passages disagree, say so briefly. Answer in the language of the text.`

// ChatConfig holds the configuration for a Chat summarizer.
type ChatConfig struct {
	// Model is the chat model that writes the summary. Required.
	Model model.BaseChatModel

	// Counter measures and truncates the input. Defaults to budget.Heuristic.
	Counter budget.Counter

	// MaxInputTokens bounds system prompt plus text.
	// Defaults to budget.DefaultMaxContextTokens if zero.
	MaxInputTokens int

	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string
}

// Chat summarizes text with a chat model.
type Chat struct {
	// model writes the summary.
	model model.BaseChatModel

	// counter measures and truncates the input.
	counter budget.Counter

	// maxInput is the input token budget.
	maxInput int

	// prompt is the system message.
	prompt string
}

// NewChat constructs a Chat summarizer.
func NewChat(cfg *ChatConfig) (*Chat, error) {
	if cfg == nil || cfg.Model == nil {
		return nil, errors.New("summarizer: chat model must not be nil")
	}
	c := &Chat{
		model:    cfg.Model,
		counter:  cfg.Counter,
		maxInput: cfg.MaxInputTokens,
		prompt:   cfg.SystemPrompt,
	}
	if c.counter == nil {
		c.counter = budget.Heuristic{}
	}
	if c.maxInput <= 0 {
		c.maxInput = budget.DefaultMaxContextTokens
	}
	if c.prompt == "" {
		c.prompt = DefaultSystemPrompt
	}
	if budget.Room(c.counter, []*schema.Message{schema.SystemMessage(c.prompt)}, schema.User, c.maxInput) <= 0 {
		return nil, fmt.Errorf("summarizer: max input tokens %d leave no room after the system prompt", c.maxInput)
	}
	return c, nil
}

// Summarize implements rag.Summarizer. Input beyond the token budget is cut
// off before the call.
func (c *Chat) Summarize(ctx context.Context, text string) (string, error) {
	log := logging.FromContext(ctx)

	sys := schema.SystemMessage(c.prompt)
	fitted, truncated := budget.FitText(c.counter, []*schema.Message{sys}, schema.User, text, c.maxInput)
	if truncated {
		log.Warn("summarizer: input truncated to token budget",
			slog.Int("input_tokens", c.counter.Count(text)),
			slog.Int("budget", c.maxInput),
			slog.String("tokenizer", c.counter.Name()),
		)
	}
	if strings.TrimSpace(fitted) == "" {
		return "", fmt.Errorf("summarizer: input does not fit a %d token budget: %w", c.maxInput, rag.ErrModel)
	}

	msgs := []*schema.Message{sys, schema.UserMessage(fitted)}
	log.Debug("summarizer: generating",
		slog.Int("estimated_tokens", budget.CountMessages(c.counter, msgs)),
		slog.String("tokenizer", c.counter.Name()),
	)

	start := time.Now()
	resp, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return "", rag.ModelFailure("summarizer: generate", err)
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("summarizer: model returned an empty summary: %w", rag.ErrModel)
	}

	log.Debug("summarizer: done",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("summary_chars", len(out)),
	)
	return out, nil
}
