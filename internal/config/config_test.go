package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ProjectRoot != root {
		t.Errorf("ProjectRoot = %q, want %q", cfg.ProjectRoot, root)
	}
	if cfg.Query.MaxOpenFileMaps != 64 {
		t.Errorf("MaxOpenFileMaps = %d, want 64", cfg.Query.MaxOpenFileMaps)
	}
	if cfg.Index.DirtyDebounceMs != 100 {
		t.Errorf("DirtyDebounceMs = %d, want 100", cfg.Index.DirtyDebounceMs)
	}
	if !cfg.Watcher.Enabled {
		t.Error("watcher should default to enabled")
	}
	if got := cfg.AbsDataDir(); got != filepath.Join(root, ".xref") {
		t.Errorf("AbsDataDir() = %q", got)
	}
	if got := cfg.CompilationDatabasePath(); got != filepath.Join(root, "compile_commands.json") {
		t.Errorf("CompilationDatabasePath() = %q", got)
	}
}

func TestLoadConfigFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".xref")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	content := `
[query]
maxOpenFileMaps = 8

[index]
dirtyDebounceMs = 250

[logging]
level = "debug"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Query.MaxOpenFileMaps != 8 {
		t.Errorf("MaxOpenFileMaps = %d, want 8", cfg.Query.MaxOpenFileMaps)
	}
	if cfg.Index.DirtyDebounceMs != 250 {
		t.Errorf("DirtyDebounceMs = %d, want 250", cfg.Index.DirtyDebounceMs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	// Unset keys keep their defaults.
	if cfg.Index.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want default 256", cfg.Index.QueueSize)
	}
}

func TestAbsoluteDataDir(t *testing.T) {
	cfg := DefaultConfig("/proj")
	cfg.DataDir = "/var/cache/xref"
	if got := cfg.AbsDataDir(); got != "/var/cache/xref" {
		t.Errorf("AbsDataDir() = %q, want the absolute path unchanged", got)
	}
}
