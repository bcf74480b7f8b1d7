// Package session drives one ingest-then-query lifecycle over a corpus.
//
// An Orchestrator starts in the ingest phase, where sources are extracted and
// added to the corpus. DoneIngesting moves it to the query phase, where Ask
// retrieves context and summarizes it. ResetSession empties the corpus and
// returns to the ingest phase under a fresh session id. Nothing here is
// global: callers own the Orchestrator and pass it where it is needed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/kbase-go/internal/extract"
	"github.com/54b3r/kbase-go/internal/ingestion"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/store"
)

// Phase is the lifecycle state of a session.
type Phase int

const (
	// PhaseIngest accepts sources; Ask is rejected.
	PhaseIngest Phase = iota
	// PhaseQuery accepts questions; ingestion is rejected.
	PhaseQuery
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseIngest:
		return "ingest"
	case PhaseQuery:
		return "query"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name written by MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ingest":
		*p = PhaseIngest
	case "query":
		*p = PhaseQuery
	default:
		return fmt.Errorf("session: unknown phase %q", b)
	}
	return nil
}

// Config holds the collaborators and tuning of an Orchestrator.
type Config struct {
	// Corpus is the paired fragment store and vector index. Required.
	Corpus *rag.Corpus

	// Pipeline splits, embeds and adds raw text to Corpus. Required.
	Pipeline *ingestion.Pipeline

	// Retriever turns a query into context over Corpus. Required.
	Retriever *rag.Retriever

	// Summarizer condenses retrieved context into an answer. Required.
	Summarizer rag.Summarizer

	// Extractor turns source handles into raw text. Optional; without it
	// IngestHandles is unavailable.
	Extractor extract.Extractor

	// History records answered questions. Optional.
	History store.HistoryStore

	// DefaultTopK is used when Ask is called with k == 0. Defaults to 3.
	DefaultTopK int

	// SummarizeTimeout bounds each summarize call. Defaults to 60s.
	SummarizeTimeout time.Duration

	// ExtractConcurrency bounds parallel extraction in IngestHandles.
	// Defaults to 4.
	ExtractConcurrency int
}

// Answer is the result of one Ask call.
type Answer struct {
	// SessionID identifies the session that answered.
	SessionID string `json:"session_id"`

	// Query is the question as asked.
	Query string `json:"query"`

	// Context is the retrieved fragments joined closest-first, or a sentinel
	// when nothing could be retrieved.
	Context string `json:"context"`

	// Summary is the summarizer's condensation of Context. When Context is a
	// sentinel, Summary repeats it and the summarizer is not called.
	Summary string `json:"summary"`

	// Results are the resolved fragments behind Context, closest first.
	Results []rag.Result `json:"results"`
}

// SourceOutcome reports what happened to one handle in IngestHandles.
type SourceOutcome struct {
	// Source is the handle as given.
	Source string `json:"source"`

	// Report describes the ingestion of the extracted text. Zero when Err
	// is set.
	Report ingestion.Report `json:"report"`

	// Err is the extraction or ingestion failure, if any.
	Err error `json:"-"`

	// Error is Err's message, for JSON consumers.
	Error string `json:"error,omitempty"`
}

// Stats is a snapshot of the session state.
type Stats struct {
	// SessionID identifies the current session.
	SessionID string `json:"session_id"`

	// Phase is the current lifecycle phase.
	Phase Phase `json:"phase"`

	// Fragments is the number of stored fragments.
	Fragments int `json:"fragments"`

	// Vectors is the number of indexed vectors. Always equal to Fragments.
	Vectors int `json:"vectors"`
}

// Orchestrator coordinates ingestion, retrieval and summarization for one
// session at a time. It is safe for concurrent use.
type Orchestrator struct {
	// cfg holds the resolved configuration.
	cfg *Config

	// mu is held shared by ingest and ask for their whole duration and
	// exclusively by phase transitions, so a transition never interleaves
	// with an operation it would invalidate.
	mu sync.RWMutex

	// phase is the current lifecycle phase. Guarded by mu.
	phase Phase

	// id is the current session id. Guarded by mu.
	id string
}

// New constructs an Orchestrator in the ingest phase.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("session: config must not be nil")
	}
	switch {
	case cfg.Corpus == nil:
		return nil, errors.New("session: corpus must not be nil")
	case cfg.Pipeline == nil:
		return nil, errors.New("session: pipeline must not be nil")
	case cfg.Retriever == nil:
		return nil, errors.New("session: retriever must not be nil")
	case cfg.Summarizer == nil:
		return nil, errors.New("session: summarizer must not be nil")
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 3
	}
	if cfg.SummarizeTimeout <= 0 {
		cfg.SummarizeTimeout = 60 * time.Second
	}
	if cfg.ExtractConcurrency <= 0 {
		cfg.ExtractConcurrency = 4
	}
	return &Orchestrator{cfg: cfg, phase: PhaseIngest, id: uuid.NewString()}, nil
}

// SessionID returns the current session id.
func (o *Orchestrator) SessionID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.id
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

// IngestSource splits, embeds and stores rawText. It is only accepted in the
// ingest phase. Fragments whose embedding fails are skipped and listed in
// the report's warnings.
func (o *Orchestrator) IngestSource(ctx context.Context, rawText, sourceRef string) (ingestion.Report, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.phase != PhaseIngest {
		return ingestion.Report{}, fmt.Errorf("session: ingest source: %w: session is in the %s phase", rag.ErrWrongPhase, o.phase)
	}
	return o.ingest(ctx, rawText, sourceRef)
}

// ingest runs the pipeline with the session id on the logger. Callers hold mu.
func (o *Orchestrator) ingest(ctx context.Context, rawText, sourceRef string) (ingestion.Report, error) {
	log := logging.FromContext(ctx).With(slog.String("session_id", o.id))
	rep, err := o.cfg.Pipeline.Ingest(logging.WithLogger(ctx, log), rawText, sourceRef)
	if err != nil {
		return rep, fmt.Errorf("session: ingest %s: %w", sourceRef, err)
	}
	return rep, nil
}

// IngestHandles extracts every handle concurrently and then ingests the
// extracted texts one at a time, in the order given. A handle that fails to
// extract or ingest is reported in its outcome and does not stop the others.
// Only cancellation of ctx aborts the call.
func (o *Orchestrator) IngestHandles(ctx context.Context, handles []string) ([]SourceOutcome, error) {
	if o.cfg.Extractor == nil {
		return nil, errors.New("session: ingest handles: no extractor configured")
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.phase != PhaseIngest {
		return nil, fmt.Errorf("session: ingest handles: %w: session is in the %s phase", rag.ErrWrongPhase, o.phase)
	}

	log := logging.FromContext(ctx)
	texts := make([]string, len(handles))
	outcomes := make([]SourceOutcome, len(handles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ExtractConcurrency)
	for i, h := range handles {
		outcomes[i].Source = h
		g.Go(func() error {
			text, err := o.cfg.Extractor.Extract(gctx, h)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				outcomes[i].setErr(err)
				log.Warn("session: extraction failed",
					slog.String("source", h),
					slog.String("kind", rag.Kind(err)),
					slog.Any("error", err),
				)
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, fmt.Errorf("session: ingest handles: %w", err)
	}

	for i := range handles {
		if outcomes[i].Err != nil {
			continue
		}
		rep, err := o.ingest(ctx, texts[i], handles[i])
		outcomes[i].Report = rep
		if err != nil {
			if ctx.Err() != nil {
				return outcomes, err
			}
			outcomes[i].setErr(err)
		}
	}
	return outcomes, nil
}

// setErr records err on the outcome.
func (s *SourceOutcome) setErr(err error) {
	s.Err = err
	s.Error = err.Error()
}

// DoneIngesting moves the session to the query phase. Calling it again in
// the query phase is a no-op.
func (o *Orchestrator) DoneIngesting(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase == PhaseQuery {
		return nil
	}
	o.phase = PhaseQuery

	frags, vecs := o.cfg.Corpus.Sizes()
	logging.FromContext(ctx).Info("session: ingestion done",
		slog.String("session_id", o.id),
		slog.Int("fragments", frags),
		slog.Int("vectors", vecs),
	)
	return nil
}

// Ask answers query from the corpus. It is only accepted in the query phase.
// k == 0 selects the configured default; negative k is rejected.
// Retrieval and summarization failures propagate; a failure to record the
// exchange in the history store is logged and ignored.
func (o *Orchestrator) Ask(ctx context.Context, query string, k int) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, fmt.Errorf("session: ask: %w", rag.Validationf("query must not be empty"))
	}
	if k < 0 {
		return Answer{}, fmt.Errorf("session: ask: %w", rag.Validationf("k must be positive, got %d", k))
	}
	if k == 0 {
		k = o.cfg.DefaultTopK
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.phase != PhaseQuery {
		return Answer{}, fmt.Errorf("session: ask: %w: session is in the %s phase", rag.ErrWrongPhase, o.phase)
	}

	log := logging.FromContext(ctx).With(slog.String("session_id", o.id))
	ctx = logging.WithLogger(ctx, log)

	ret, err := o.cfg.Retriever.Lookup(ctx, query, k)
	if err != nil {
		return Answer{}, fmt.Errorf("session: ask: %w", err)
	}

	ans := Answer{
		SessionID: o.id,
		Query:     query,
		Context:   ret.Context,
		Summary:   ret.Context,
		Results:   ret.Results,
	}
	if ret.Found() {
		summary, err := o.summarize(ctx, ret.Context)
		if err != nil {
			return Answer{}, err
		}
		ans.Summary = summary
	}

	log.Info("session: question answered",
		slog.Int("k", k),
		slog.Int("results", len(ans.Results)),
		slog.Int("context_chars", len(ans.Context)),
	)

	if o.cfg.History != nil {
		ex := store.Exchange{SessionID: o.id, Query: query, Context: ans.Context, Summary: ans.Summary}
		if err := o.cfg.History.Append(ctx, ex); err != nil {
			log.Warn("session: history append failed", slog.Any("error", err))
		}
	}
	return ans, nil
}

// summarize runs the summarizer bounded by SummarizeTimeout.
func (o *Orchestrator) summarize(ctx context.Context, text string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.SummarizeTimeout)
	defer cancel()

	summary, err := o.cfg.Summarizer.Summarize(callCtx, text)
	if err != nil {
		return "", rag.ModelFailure("session: summarize", err)
	}
	return summary, nil
}

// ResetSession empties the corpus, returns to the ingest phase and assigns a
// new session id.
func (o *Orchestrator) ResetSession(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.cfg.Corpus.Reset(ctx); err != nil {
		return fmt.Errorf("session: reset: %w", err)
	}
	prev := o.id
	o.id = uuid.NewString()
	o.phase = PhaseIngest

	logging.FromContext(ctx).Info("session: reset",
		slog.String("previous_session_id", prev),
		slog.String("session_id", o.id),
	)
	return nil
}

// Stats returns a snapshot of the session state.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	frags, vecs := o.cfg.Corpus.Sizes()
	return Stats{SessionID: o.id, Phase: o.phase, Fragments: frags, Vectors: vecs}
}

// History returns up to n recent exchanges of the current session,
// oldest first. It returns nil when no history store is configured.
func (o *Orchestrator) History(ctx context.Context, n int) ([]store.Exchange, error) {
	if o.cfg.History == nil {
		return nil, nil
	}
	exs, err := o.cfg.History.Recent(ctx, o.SessionID(), n)
	if err != nil {
		return nil, fmt.Errorf("session: history: %w", err)
	}
	return exs, nil
}

// Close releases the corpus backend.
func (o *Orchestrator) Close() error {
	return o.cfg.Corpus.Close()
}
