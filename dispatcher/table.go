package dispatcher

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"codetutor-exec/piston"
)

// Table maps lower-cased language identifiers to backends. It is built once
// and never mutated.
type Table struct {
	backends map[string]Backend
}

// NewTable copies entries into a new Table.
func NewTable(entries map[string]Backend) *Table {
	backends := make(map[string]Backend, len(entries))
	for language, backend := range entries {
		backends[strings.ToLower(strings.TrimSpace(language))] = backend
	}
	return &Table{backends: backends}
}

// Lookup resolves language case-insensitively.
func (t *Table) Lookup(language string) (Backend, bool) {
	b, ok := t.backends[strings.ToLower(strings.TrimSpace(language))]
	return b, ok
}

// Resolve is Lookup returning ErrUnsupportedLanguage for unknown languages.
func (t *Table) Resolve(language string) (Backend, error) {
	b, ok := t.Lookup(language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return b, nil
}

// Languages returns the registered languages in sorted order.
func (t *Table) Languages() []string {
	out := make([]string, 0, len(t.backends))
	for language := range t.backends {
		out = append(out, language)
	}
	sort.Strings(out)
	return out
}

// DefaultExecutorURLs returns the fallback worker address per language.
func DefaultExecutorURLs() map[string]string {
	return map[string]string{
		"python":                "http://localhost:4000",
		"java":                  "http://localhost:4001",
		"kotlin":                "http://localhost:4002",
		"rust":                  "http://localhost:4003",
		"csharp":                "http://localhost:4004",
		"javascript":            "http://localhost:4005",
		"javascript-typescript": "http://localhost:4005",
		"typescript":            "http://localhost:4005",
		"flutter":               "http://localhost:4007",
		"dart":                  "http://localhost:4007",
	}
}

// DefaultDelegatedLanguages are served by Piston unless configured otherwise.
var DefaultDelegatedLanguages = []string{"python", "java", "kotlin", "rust", "dart", "flutter"}

// DefaultCompiledLanguages are the worker languages with a build step.
var DefaultCompiledLanguages = []string{"csharp", "java"}

// TableConfig selects a backend for every language.
type TableConfig struct {
	ExecutorURLs map[string]string
	// Delegated languages go to Piston instead of their worker URL.
	Delegated  []string
	HTTPClient *http.Client
	Piston     *piston.Client
	// Budget is the per-run worker budget. Compile only applies to
	// languages listed in Compiled.
	Budget   Budget
	Compiled []string
}

// BuildTable builds the production table: every language in ExecutorURLs gets
// an HTTP backend unless it is delegated and Piston supports it.
func BuildTable(cfg TableConfig) *Table {
	delegated := make(map[string]bool, len(cfg.Delegated))
	for _, language := range cfg.Delegated {
		delegated[strings.ToLower(strings.TrimSpace(language))] = true
	}

	compiled := make(map[string]bool, len(cfg.Compiled))
	for _, language := range cfg.Compiled {
		compiled[strings.ToLower(strings.TrimSpace(language))] = true
	}
	interpreted := cfg.Budget
	interpreted.Compile = 0

	var pistonBackend *DelegatedBackend
	if cfg.Piston != nil {
		pistonBackend = NewDelegatedBackend(cfg.Piston).WithBudget(interpreted)
	}

	entries := make(map[string]Backend, len(cfg.ExecutorURLs)+len(delegated))
	for language, url := range cfg.ExecutorURLs {
		language = strings.ToLower(strings.TrimSpace(language))
		if delegated[language] && pistonBackend != nil && cfg.Piston.Supports(language) {
			entries[language] = pistonBackend
			continue
		}
		budget := interpreted
		if compiled[language] {
			budget = cfg.Budget
		}
		entries[language] = NewHTTPBackend(language, url, cfg.HTTPClient).WithBudget(budget)
	}
	for language := range delegated {
		if _, ok := entries[language]; !ok && pistonBackend != nil && cfg.Piston.Supports(language) {
			entries[language] = pistonBackend
		}
	}
	return NewTable(entries)
}
