// Command kbase builds a throwaway knowledge base from local files, URLs and
// raw text, then answers questions from it with a retrieved context and a
// model-written summary. It runs one-shot (ask), as an HTTP API (serve) or
// as an interactive terminal UI (tui).
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/kbase-go/cmd/kbase/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
