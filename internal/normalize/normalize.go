// Package normalize masks volatile substrings (timestamps, UUIDs,
// hashes, bare numbers) in corpus text before candidate extraction.
// Left in place, such substrings flood the trie with near-unique
// candidates that can never earn a vocabulary slot; replacing them
// with stable placeholders keeps the candidate set on text that
// actually repeats.
package normalize

import (
	"fmt"
	"io"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Pattern is one masking rule as it appears in a YAML config.
type Pattern struct {
	Name        string `yaml:"name"`
	Regex       string `yaml:"regex"`
	Placeholder string `yaml:"placeholder"`
	Description string `yaml:"description"`
}

type patternsConfig struct {
	Patterns []Pattern `yaml:"patterns"`
}

// CompiledPattern is a Pattern with its regex compiled.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Placeholder string
}

// Set applies an ordered list of masking rules. A nil *Set is valid
// and applies nothing.
type Set struct {
	patterns []CompiledPattern
}

// Load reads a YAML pattern list from r and compiles it. The reader
// seam keeps this package off the filesystem, same as the config
// loader.
func Load(r io.Reader) (*Set, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading patterns: %w", err)
	}

	var cfg patternsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing patterns YAML: %w", err)
	}

	compiled := make([]CompiledPattern, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %s: %w", p.Name, err)
		}
		compiled = append(compiled, CompiledPattern{
			Name:        p.Name,
			Regex:       re,
			Placeholder: p.Placeholder,
		})
	}
	return &Set{patterns: compiled}, nil
}

// Default returns the built-in rules, used when no pattern file is
// supplied. Rules run in order; the catch-all number rule goes last so
// the structured forms win.
func Default() *Set {
	return &Set{patterns: []CompiledPattern{
		{
			Name:        "timestamp",
			Regex:       regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}[ T]\d{2}:\d{2}:\d{2}`),
			Placeholder: "<TIMESTAMP>",
		},
		{
			Name:        "uuid",
			Regex:       regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`),
			Placeholder: "<UUID>",
		},
		{
			Name:        "email",
			Regex:       regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`),
			Placeholder: "<EMAIL>",
		},
		{
			Name:        "url",
			Regex:       regexp.MustCompile(`https?://[^\s]+`),
			Placeholder: "<URL>",
		},
		{
			Name:        "ip",
			Regex:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Placeholder: "<IP>",
		},
		{
			Name:        "hex",
			Regex:       regexp.MustCompile(`\b[0-9a-f]{16,}\b`),
			Placeholder: "<HEX>",
		},
		{
			Name:        "number",
			Regex:       regexp.MustCompile(`\b\d{4,}\b`),
			Placeholder: "<NUM>",
		},
	}}
}

// Apply runs every rule over text in order and returns the masked
// result.
func (s *Set) Apply(text []byte) []byte {
	if s == nil {
		return text
	}
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAll(text, []byte(p.Placeholder))
	}
	return text
}
