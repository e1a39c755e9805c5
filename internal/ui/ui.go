package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	HeaderColor  = color.New(color.FgBlue, color.Bold)
	InfoColor    = color.New(color.FgCyan)
	SuccessColor = color.New(color.FgGreen)
	WarningColor = color.New(color.FgYellow)
	ErrorColor   = color.New(color.FgRed)
	PathColor    = color.New(color.FgYellow)
)

func Header(format string, a ...interface{}) {
	HeaderColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Info(format string, a ...interface{}) {
	InfoColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Success(format string, a ...interface{}) {
	SuccessColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Warning(format string, a ...interface{}) {
	WarningColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Error(format string, a ...interface{}) {
	ErrorColor.Fprintf(os.Stderr, format+"\n", a...)
}

func Path(format string, a ...interface{}) {
	PathColor.Fprintf(os.Stderr, "  "+format+"\n", a...)
}

// PrintSummary renders a run summary without the TUI, for piped or
// --no-animation use.
func PrintSummary(created, modified, deleted, skipped, failed, log []string) {
	Header("\n--- Apply Summary ---")

	if len(created) == 0 && len(modified) == 0 && len(deleted) == 0 && len(skipped) == 0 && len(failed) == 0 {
		Info("No files were changed.")
	}

	if len(created) > 0 {
		Success("Created %d file(s):", len(created))
		for _, f := range created {
			Path("- %s", f)
		}
	}
	if len(modified) > 0 {
		Success("Modified %d file(s):", len(modified))
		for _, f := range modified {
			Path("- %s", f)
		}
	}
	if len(deleted) > 0 {
		Success("Deleted %d file(s):", len(deleted))
		for _, f := range deleted {
			Path("- %s", f)
		}
	}
	if len(skipped) > 0 {
		Warning("Skipped %d file(s):", len(skipped))
		for _, f := range skipped {
			Path("- %s", f)
		}
	}
	if len(failed) > 0 {
		Error("Failed to process %d file(s):", len(failed))
		for _, f := range failed {
			Path("- %s", f)
		}
	}

	warnings := 0
	for _, line := range log {
		if strings.HasPrefix(line, "warning: ") || strings.HasPrefix(line, "error: ") {
			warnings++
		}
	}
	if warnings > 0 {
		Warning("\n%d warning(s)/error(s) in the change log:", warnings)
		for _, line := range log {
			if strings.HasPrefix(line, "warning: ") || strings.HasPrefix(line, "error: ") {
				fmt.Fprintf(os.Stderr, "  %s\n", line)
			}
		}
	}
}
