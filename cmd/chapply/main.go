package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"chapply/chapply"
	"chapply/cli"
	"chapply/internal/tui"
	"chapply/internal/ui"
)

func main() {
	cfg, err := cli.ParseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app, err := chapply.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if cfg.NoAnimation {
		summary, err := app.Execute(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if summary.Message != "" {
			ui.Header(summary.Message)
		}
		ui.PrintSummary(summary.Created, summary.Modified, summary.Deleted, summary.Skipped, summary.Failed, summary.Log)
		if len(summary.Failed) > 0 {
			os.Exit(1)
		}
		return
	}

	model := tui.New(app)
	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
