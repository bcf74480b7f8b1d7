// Package commands defines all Cobra CLI commands for the kbase binary.
package commands

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/audit"
	"github.com/54b3r/kbase-go/internal/config"
	"github.com/54b3r/kbase-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbase",
		Short: "kbase: ask questions of the documents you hand it",
		Long: `kbase builds an in-memory knowledge base for one session.

Add sources (files, URLs or raw text), finish the ingest phase, then ask
questions. Each answer carries the most similar fragments and a summary
written by the configured model.

Embedding and summarization backends are selected via environment variables
(EMBEDDING_PROVIDER, MODEL_PROVIDER, SUMMARIZER_BACKEND), a .env file in the
working directory, or a YAML config file (~/.kbase/config.yaml).
See 'kbase --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is the normal case.
			_ = godotenv.Load()

			log := logging.New()
			slog.SetDefault(log)

			// Env vars always override YAML values.
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)
			audit.LogCommandStart(ctx, log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbase/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewTUICmd(),
		NewVersionCmd(),
	)

	return root
}
