package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbase-go/internal/version"
)

// NewVersionCmd constructs the `kbase version` subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kbase version, git commit, and build date",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
