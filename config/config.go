// Package config loads the named training options from YAML: a plain
// struct with yaml tags, a default fallback, and a Load that takes the
// bytes and does nothing else.
package config

import (
	"fmt"
	"io"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config holds every named training option.
type Config struct {
	// MaxLen is the maximum candidate length in code points.
	MaxLen int `yaml:"max_len"`
	// FileLimit caps the number of input files processed; 0 means
	// all of them. Train enforces it by wrapping the corpus reader
	// with corpus.Limit.
	FileLimit int `yaml:"file_limit"`
	// PrefTokenCount is the target vocabulary size P.
	PrefTokenCount int `yaml:"pref_token_count"`
	// BatchSize is the number of candidates toggled per worker task.
	BatchSize int `yaml:"batch_size"`
	// PassCount is the number of annealing passes to run; 0 means
	// unlimited, i.e. run until a control signal arrives.
	PassCount int `yaml:"pass_count"`
	// Rebuild, if true, ignores any supplied candidates cache and
	// re-runs Candidate Extraction.
	Rebuild bool `yaml:"rebuild"`
	// Normalize, if true, masks volatile substrings (timestamps,
	// UUIDs, long numbers) in corpus text before extraction.
	Normalize bool `yaml:"normalize"`
	// StatusAddr, when non-empty, serves per-pass progress snapshots
	// over HTTP on this address.
	StatusAddr string `yaml:"status_addr"`
}

// Default returns the fallback configuration used when no file is
// supplied: max_len 255, batch_size sized to the available
// hardware concurrency, and no fixed pass count (run until a control
// signal).
func Default() Config {
	return Config{
		MaxLen:         255,
		FileLimit:      0,
		PrefTokenCount: 30000,
		BatchSize:      runtime.GOMAXPROCS(0),
		PassCount:      0,
		Rebuild:        false,
	}
}

// Load reads and parses a YAML document from r, starting from
// Default() so a partial document only overrides the fields it sets.
func Load(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}
