package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the full-screen program and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, engine Engine, opts Options) error {
	p := tea.NewProgram(New(ctx, engine, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
