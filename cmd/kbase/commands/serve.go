package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/server"
	"github.com/54b3r/kbase-go/internal/tracing"
)

// NewServeCmd constructs the `kbase serve` command, which exposes a session
// over a local HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbase HTTP API",
		Long: `Start the kbase HTTP API on localhost.

The server holds one session. POST sources to /api/sources or /api/upload,
POST /api/session/done to start the query phase, then POST questions to
/api/ask. /api/session/reset starts over with an empty corpus.

Set KBASE_API_KEY to require a Bearer token on every /api route except
health and readiness.

Examples:
  kbase serve
  kbase serve --port 9090
  INDEX_BACKEND=qdrant kbase serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			if flush := tracing.Setup(tracing.ConfigFromEnv(), log); flush != nil {
				defer flush()
			}

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() {
				if err := rt.Close(); err != nil {
					log.Warn("serve: shutdown cleanup failed", slog.Any("error", err))
				}
			}()

			srv, err := server.New(rt.orch, &server.Config{
				Host:       host,
				Port:       port,
				Logger:     log,
				Pingers:    rt.pingers,
				APIKey:     os.Getenv("KBASE_API_KEY"),
				Extractor:  rt.extractor,
				SourceRoot: os.Getenv("KBASE_SOURCE_ROOT"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("KBASE_HOST", "127.0.0.1"), "Host address to bind to (env: KBASE_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("KBASE_PORT", 8080), "TCP port to listen on (env: KBASE_PORT)")

	return cmd
}
