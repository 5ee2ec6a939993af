package piston

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRuntimesLookup(t *testing.T) {
	t.Parallel()

	tests := map[string]Runtime{
		"PYTHON":  {Language: "python", Version: "3.10.0"},
		"js":      {Language: "javascript", Version: "18.15.0"},
		"C#":      {Language: "csharp", Version: "6.12.0"},
		"java":    {Language: "java", Version: "15.0.2"},
		"kotlin":  {Language: "kotlin", Version: "1.8.20"},
		"rust":    {Language: "rust", Version: "1.68.2"},
		"flutter": {Language: "dart", Version: "2.19.6"},
	}
	runtimes := DefaultRuntimes()
	for name, want := range tests {
		got, ok := runtimes.Lookup(name)
		if !ok || got != want {
			t.Fatalf("%s: expected %+v, got %+v (ok=%v)", name, want, got, ok)
		}
	}
	if _, ok := runtimes.Lookup("cobol"); ok {
		t.Fatalf("cobol should be unmapped")
	}
}

func TestLoadRuntimesMergesOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runtimes.yaml")
	data := []byte(`
python:
  runtime: python
  version: 3.12.0
  aliases: [py, Python3]
go:
  version: 1.16.2
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	runtimes, err := LoadRuntimes(path)
	if err != nil {
		t.Fatalf("LoadRuntimes returned error: %v", err)
	}

	if rt, _ := runtimes.Lookup("python3"); rt.Version != "3.12.0" {
		t.Fatalf("expected alias override, got %+v", rt)
	}
	if rt, _ := runtimes.Lookup("go"); rt != (Runtime{Language: "go", Version: "1.16.2"}) {
		t.Fatalf("expected go runtime defaulting its name, got %+v", rt)
	}
	if rt, _ := runtimes.Lookup("rust"); rt.Version != "1.68.2" {
		t.Fatalf("expected defaults kept, got %+v", rt)
	}
}

func TestLoadRuntimesErrors(t *testing.T) {
	t.Parallel()

	if _, err := LoadRuntimes(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("python:\n  runtime: python\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadRuntimes(path); err == nil {
		t.Fatalf("expected error for missing version")
	}

	runtimes, err := LoadRuntimes("")
	if err != nil || len(runtimes) != len(DefaultRuntimes()) {
		t.Fatalf("expected defaults for empty path, got %v %v", runtimes, err)
	}
}
