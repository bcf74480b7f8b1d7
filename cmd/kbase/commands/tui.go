package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/tracing"
	"github.com/54b3r/kbase-go/internal/tui"
)

// NewTUICmd constructs the `kbase tui` command, the interactive terminal
// front end.
func NewTUICmd() *cobra.Command {
	var k int
	var logFile string

	cmd := &cobra.Command{
		Use:   "tui [source...]",
		Short: "Start an interactive session in the terminal",
		Long: `Start an interactive session.

Any sources given as arguments are ingested at startup. Each line typed in
the ingest phase is a file path, URL or raw text to add; type /done to start
asking, /reset for a new session and /quit to leave. Use the up and down
arrows to browse the retrieved fragments.

Logs go to --log-file because the terminal is taken over by the UI.

Examples:
  kbase tui
  kbase tui notes.md https://go.dev/doc/effective_go`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			out, closeLog, err := openLogFile(logFile)
			if err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			defer closeLog()
			log := logging.NewWriter(out)
			slog.SetDefault(log)
			ctx = logging.WithLogger(ctx, log)

			if flush := tracing.Setup(tracing.ConfigFromEnv(), log); flush != nil {
				defer flush()
			}

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			defer func() { _ = rt.Close() }()

			return tui.Run(ctx, rt.orch, tui.Options{TopK: k, Sources: args})
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of fragments to retrieve (default: RETRIEVE_TOP_K or 3)")
	cmd.Flags().StringVar(&logFile, "log-file", defaultTUILog(), `Log destination ("" discards logs)`)

	return cmd
}

// defaultTUILog returns ~/.kbase/tui.log, or "" when the home directory is
// unknown.
func defaultTUILog() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kbase", "tui.log")
}

// openLogFile opens path for appending, creating its directory. An empty
// path discards output.
func openLogFile(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
