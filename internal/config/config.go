package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options holds the engine tuning knobs. The whitespace window bounds and
// the pattern cap are heuristics, not invariants, so they are configurable
// rather than hard-coded at call sites.
type Options struct {
	// WhitespaceMinChars and WhitespaceMaxChars bound the trimmed pattern
	// length for which the whitespace-normalized block scan is attempted.
	WhitespaceMinChars int `yaml:"whitespace_min_chars"`
	WhitespaceMaxChars int `yaml:"whitespace_max_chars"`
	// MaxPatternChars is the length beyond which search patterns are
	// truncated during repair.
	MaxPatternChars int `yaml:"max_pattern_chars"`
	// MaxSamples caps the context samples collected per preview entry.
	MaxSamples int `yaml:"max_samples"`
	// SampleContextChars is how much text to keep on each side of a match
	// in a context sample.
	SampleContextChars int `yaml:"sample_context_chars"`
}

// Default returns the built-in option values.
func Default() Options {
	return Options{
		WhitespaceMinChars: 20,
		WhitespaceMaxChars: 1000,
		MaxPatternChars:    5000,
		MaxSamples:         3,
		SampleContextChars: 40,
	}
}

// Load reads options from a YAML file, layered over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Options, error) {
	opts := Default()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse config file: %w", err)
	}
	return opts.sanitized(), nil
}

// sanitized clamps nonsense values back to their defaults so a sparse or
// zeroed config file cannot disable a strategy outright.
func (o Options) sanitized() Options {
	def := Default()
	if o.WhitespaceMinChars <= 0 {
		o.WhitespaceMinChars = def.WhitespaceMinChars
	}
	if o.WhitespaceMaxChars < o.WhitespaceMinChars {
		o.WhitespaceMaxChars = def.WhitespaceMaxChars
	}
	if o.MaxPatternChars <= 0 {
		o.MaxPatternChars = def.MaxPatternChars
	}
	if o.MaxSamples <= 0 {
		o.MaxSamples = def.MaxSamples
	}
	if o.SampleContextChars <= 0 {
		o.SampleContextChars = def.SampleContextChars
	}
	return o
}
