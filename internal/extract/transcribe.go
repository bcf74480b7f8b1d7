package extract

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber turns audio and video files into text with the OpenAI Whisper
// transcription endpoint.
type Transcriber struct {
	// client is the OpenAI API client.
	client *openai.Client

	// model is the transcription model, e.g. "whisper-1".
	model string
}

// NewTranscriber returns a Transcriber. An empty model selects whisper-1.
func NewTranscriber(apiKey, baseURL, model string) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("extract: transcriber requires OPENAI_API_KEY")
	}
	if model == "" {
		model = openai.Whisper1
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Transcriber{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Extract implements Extractor.
func (t *Transcriber) Extract(ctx context.Context, path string) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: path,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", path, err)
	}
	return resp.Text, nil
}
