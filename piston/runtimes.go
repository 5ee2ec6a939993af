package piston

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Runtime identifies a Piston language runtime.
type Runtime struct {
	Language string
	Version  string
}

// Runtimes maps a lower-cased language identifier or alias to its runtime.
type Runtimes map[string]Runtime

// DefaultRuntimes returns the built-in runtime table.
func DefaultRuntimes() Runtimes {
	return Runtimes{
		"python":     {Language: "python", Version: "3.10.0"},
		"javascript": {Language: "javascript", Version: "18.15.0"},
		"js":         {Language: "javascript", Version: "18.15.0"},
		"csharp":     {Language: "csharp", Version: "6.12.0"},
		"c#":         {Language: "csharp", Version: "6.12.0"},
		"java":       {Language: "java", Version: "15.0.2"},
		"kotlin":     {Language: "kotlin", Version: "1.8.20"},
		"rust":       {Language: "rust", Version: "1.68.2"},
		"dart":       {Language: "dart", Version: "2.19.6"},
		"flutter":    {Language: "dart", Version: "2.19.6"},
	}
}

// Lookup resolves language case-insensitively.
func (r Runtimes) Lookup(language string) (Runtime, bool) {
	rt, ok := r[strings.ToLower(strings.TrimSpace(language))]
	return rt, ok
}

type runtimeEntry struct {
	Runtime string   `yaml:"runtime"`
	Version string   `yaml:"version"`
	Aliases []string `yaml:"aliases"`
}

// LoadRuntimes reads a YAML file of
//
//	python:
//	  runtime: python
//	  version: 3.12.0
//	  aliases: [py]
//
// and merges it over the defaults. An empty path returns the defaults.
func LoadRuntimes(path string) (Runtimes, error) {
	runtimes := DefaultRuntimes()
	if path == "" {
		return runtimes, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read piston runtimes: %w", err)
	}
	overrides, err := parseRuntimes(data)
	if err != nil {
		return nil, fmt.Errorf("parse piston runtimes %s: %w", path, err)
	}
	for key, rt := range overrides {
		runtimes[key] = rt
	}
	return runtimes, nil
}

func parseRuntimes(data []byte) (Runtimes, error) {
	var entries map[string]runtimeEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	out := make(Runtimes, len(entries))
	for name, entry := range entries {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("empty language name")
		}
		if entry.Version == "" {
			return nil, fmt.Errorf("language %q: version is required", name)
		}
		rt := Runtime{Language: entry.Runtime, Version: entry.Version}
		if rt.Language == "" {
			rt.Language = key
		}
		out[key] = rt
		for _, alias := range entry.Aliases {
			out[strings.ToLower(strings.TrimSpace(alias))] = rt
		}
	}
	return out, nil
}
