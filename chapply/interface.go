package chapply

import (
	"context"
	"fmt"

	"chapply/cli"
	"chapply/model"
)

// Config for using chapply as a library.
type Config struct {
	// Root is the project directory the change-set is applied to.
	// Defaults to the working directory.
	Root string
	// DryRun simulates the run without touching the filesystem.
	DryRun bool
	// Extensions restricts the apply set by file extension (e.g. ".go").
	Extensions []string
	// ConfigFile optionally points at a YAML file overriding engine
	// tuning options.
	ConfigFile string
}

func (c Config) toCLI() *cli.Config {
	return &cli.Config{
		Root:       c.Root,
		DryRun:     c.DryRun,
		Extensions: c.Extensions,
		ConfigFile: c.ConfigFile,
	}
}

// Apply parses the given content and applies the contained change-set to
// the configured project root in one transaction.
func Apply(content string, config Config) (model.ApplyResult, error) {
	app, err := New(config.toCLI())
	if err != nil {
		return model.ApplyResult{}, fmt.Errorf("failed to initialize chapply app: %w", err)
	}

	cs, err := app.Parse(content)
	if err != nil {
		return model.ApplyResult{}, err
	}
	return app.Apply(context.Background(), cs), nil
}

// Preview parses the given content and reports, without mutating anything,
// whether each operation would find its pattern.
func Preview(content string, config Config) ([]model.PreviewResult, error) {
	app, err := New(config.toCLI())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chapply app: %w", err)
	}

	cs, err := app.Parse(content)
	if err != nil {
		return nil, err
	}
	return app.Preview(cs), nil
}
