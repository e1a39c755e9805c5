package cli

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Config holds all the command-line flag values.
type Config struct {
	Root        string
	DryRun      bool
	Preview     bool
	Verbose     bool
	NoAnimation bool
	ConfigFile  string
	Extensions  []string
}

// ParseFlags defines and parses command-line flags using pflag.
func ParseFlags() (*Config, error) {
	cfg := &Config{}

	pflag.StringVarP(&cfg.Root, "root", "C", "", "Project root directory the change-set is applied to (defaults to the working directory).")
	pflag.BoolVarP(&cfg.DryRun, "dry-run", "n", false, "Simulate the run without touching the filesystem.")
	pflag.BoolVarP(&cfg.Preview, "preview", "p", false, "Show per-operation match results instead of applying.")
	pflag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable debug logging.")
	pflag.BoolVar(&cfg.NoAnimation, "no-animation", false, "Disable the spinner and render plain output.")
	pflag.StringVarP(&cfg.ConfigFile, "config", "c", "", "Path to a YAML file overriding engine tuning options.")
	pflag.StringSliceVarP(&cfg.Extensions, "extension", "e", []string{}, "Only apply changes to files with these extensions (e.g. 'go', 'ts').")

	pflag.Usage = func() {
		fmt.Println("Usage: chapply [flags]")
		fmt.Println("\nParse a change-set from stdin (pipe) or clipboard and apply it to the project tree.")
		fmt.Println("\nExample: pbpaste | chapply -C ./myproject -n")
		fmt.Println("\nFlags:")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if cfg.DryRun && cfg.Preview {
		return nil, fmt.Errorf("error: --dry-run and --preview are mutually exclusive")
	}

	// Normalize extensions
	for i, ext := range cfg.Extensions {
		if len(ext) > 0 && ext[0] != '.' {
			cfg.Extensions[i] = "." + ext
		}
	}

	return cfg, nil
}
