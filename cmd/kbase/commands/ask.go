package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/session"
)

// NewAskCmd constructs the `kbase ask` command, which runs one session end to
// end: ingest the given sources, close the ingest phase and answer a single
// question.
func NewAskCmd() *cobra.Command {
	var sources []string
	var texts []string
	var k int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question from the given sources",
		Long: `Ingest the given sources into a fresh session and answer one question.

Sources may be local files (txt, md, csv, html, pdf, docx, audio, video),
http(s) URLs, or raw text passed with --text.

Examples:
  kbase ask -s notes.md -s https://go.dev/doc/effective_go "what is a goroutine?"
  kbase ask --text "Cats are mammals. Dogs bark." "what are cats?"
  kbase ask -s report.pdf -k 5 --json "what were the key findings?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if len(sources) == 0 && len(texts) == 0 {
				return errors.New("ask: at least one --source or --text is required")
			}

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = rt.Close() }()

			if len(sources) > 0 {
				outcomes, err := rt.orch.IngestHandles(ctx, sources)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				for _, o := range outcomes {
					if o.Error != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", o.Source, o.Error)
						continue
					}
					log.Info("source ingested",
						slog.String("source", o.Source),
						slog.Int("added", o.Report.Added),
						slog.Int("skipped", o.Report.Skipped),
					)
				}
			}
			for i, t := range texts {
				if _, err := rt.orch.IngestSource(ctx, t, fmt.Sprintf("text-%d", i+1)); err != nil {
					return fmt.Errorf("ask: %w", err)
				}
			}

			if err := rt.orch.DoneIngesting(ctx); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			ans, err := rt.orch.Ask(ctx, strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ans)
			}
			printAnswer(cmd.OutOrStdout(), ans)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&sources, "source", "s", nil, "File path or URL to ingest (repeatable)")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "Raw text to ingest (repeatable)")
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of fragments to retrieve (default: RETRIEVE_TOP_K or 3)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the answer as JSON")

	return cmd
}

// printAnswer writes the summary followed by the ranked fragments, or the
// bare context when nothing was retrieved.
func printAnswer(w io.Writer, ans session.Answer) {
	fmt.Fprintf(w, "Summary:\n%s\n\n", ans.Summary)
	if len(ans.Results) == 0 {
		fmt.Fprintln(w, ans.Context)
		return
	}
	fmt.Fprintf(w, "Context (%d fragments):\n", len(ans.Results))
	for i, r := range ans.Results {
		ref := r.Fragment.SourceRef
		if ref == "" {
			ref = "-"
		}
		fmt.Fprintf(w, "[%d] distance=%.4f source=%s\n    %s\n", i+1, r.Distance, ref, r.Fragment.Text)
	}
}
