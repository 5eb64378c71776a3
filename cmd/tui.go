package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/collectx/internal/shared"
	"github.com/desertthunder/collectx/internal/tasks"
	"github.com/desertthunder/collectx/internal/ui"
)

// logToFile redirects the runner's logs to the configured file so they do not interfere with the
// TUI. It must run before the engine is built; the returned func restores the previous logger.
func (r *Runner) logToFile() (func(), error) {
	fileLogger, err := shared.NewFileLogger(r.config.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.SetLevel(r.logger.GetLevel())

	previous := r.logger
	r.SetLogger(fileLogger)
	return func() { r.SetLogger(previous) }, nil
}

// runTUI runs one job inside the progress view and returns its result once the view exits.
func (r *Runner) runTUI(ctx context.Context, title string, run ui.RunFunc) (*tasks.PollResult, error) {
	model := ui.NewModel(ctx, title, run)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("error running TUI: %w", err)
	}

	return model.Result()
}
