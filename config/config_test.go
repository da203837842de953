package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KentBeck/LivingObjects-sub000/vm"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[heap]
space-words = 4096
gc-threshold = 0.5

[log]
verbosity = 2
file = "stvm.log"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Heap.SpaceWords != 4096 {
		t.Errorf("space-words = %d, want 4096", c.Heap.SpaceWords)
	}
	if c.Heap.GCThreshold != 0.5 {
		t.Errorf("gc-threshold = %g, want 0.5", c.Heap.GCThreshold)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	abs, _ := filepath.Abs(dir)
	if want := filepath.Join(abs, "stvm.log"); c.Log.File != want {
		t.Errorf("log file = %q, want %q", c.Log.File, want)
	}
	opts := c.Options()
	if opts.SpaceWords != 4096 || opts.GCThreshold != 0.5 {
		t.Errorf("Options() = %+v", opts)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[log]\nverbosity = 1\n")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := vm.DefaultOptions()
	if c.Heap.SpaceWords != def.SpaceWords {
		t.Errorf("space-words = %d, want %d", c.Heap.SpaceWords, def.SpaceWords)
	}
	if c.Heap.GCThreshold != def.GCThreshold {
		t.Errorf("gc-threshold = %g, want %g", c.Heap.GCThreshold, def.GCThreshold)
	}
	if c.LogFile() != nil {
		t.Errorf("LogFile() = %q, want nil", *c.LogFile())
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative space", "[heap]\nspace-words = -1\n"},
		{"threshold too high", "[heap]\ngc-threshold = 1.5\n"},
		{"negative threshold", "[heap]\ngc-threshold = -0.2\n"},
		{"negative verbosity", "[log]\nverbosity = -3\n"},
		{"unknown key", "[heap]\nsize = 10\n"},
		{"bad syntax", "[heap\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content)); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.content)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[heap]\nspace-words = 2048\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Heap.SpaceWords != 2048 {
		t.Errorf("space-words = %d, want 2048", c.Heap.SpaceWords)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
}
