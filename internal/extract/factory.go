package extract

import (
	"log/slog"
	"os"
)

// NewFromEnv returns a Registry with every built-in extractor installed.
// Media transcription is enabled only when OPENAI_API_KEY is set; the model
// comes from WHISPER_MODEL and the endpoint from OPENAI_BASE_URL.
func NewFromEnv(log *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(KindText, Func(ReadText))
	r.Register(KindCSV, Func(ReadCSV))
	r.Register(KindHTML, Func(ReadHTML))
	r.Register(KindURL, NewWebPage())
	r.Register(KindPDF, Func(ReadPDF))
	r.Register(KindDOCX, Func(ReadDOCX))

	t, err := NewTranscriber(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"), os.Getenv("WHISPER_MODEL"))
	if err != nil {
		log.Debug("extract: media transcription disabled", slog.String("reason", err.Error()))
		return r
	}
	r.Register(KindMedia, t)
	return r
}
