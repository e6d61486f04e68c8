package storage

import (
	"os"
	"path/filepath"
	"testing"

	"xref/internal/indexer"
	"xref/internal/location"
	"xref/internal/logging"
)

func openTestDB(t *testing.T, dir string) *DB {
	t.Helper()
	db, _, err := Open(dir, logging.Discard())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	db, fresh, err := Open(dir, logging.Discard())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !fresh {
		t.Error("first open should report a fresh database")
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, fresh2, err := Open(dir, logging.Discard())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db2.Close() //nolint:errcheck
	if fresh2 {
		t.Error("second open should not report fresh")
	}
}

func TestOpenRecreatesCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, dbFile)
	if err := os.WriteFile(path, []byte("this is not sqlite"), 0644); err != nil {
		t.Fatal(err)
	}

	db, fresh, err := Open(dir, logging.Discard())
	if err != nil {
		t.Fatalf("Open() over corrupt file error = %v", err)
	}
	defer db.Close() //nolint:errcheck
	if !fresh {
		t.Error("recovery from corruption should report fresh (full re-index)")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close() //nolint:errcheck

	state := NewProjectState()
	state.Files[1] = "/src/a.c"
	state.Files[2] = "/src/h.h"
	state.Sources[1] = []indexer.Source{
		{FileID: 1, Path: "/src/a.c", Args: []string{"-O2", "-Wall"}, Compiler: "/usr/bin/cc", ModTime: 1234},
		{FileID: 1, Path: "/src/a.c", Args: []string{"-O0"}, Compiler: "/usr/bin/cc", ModTime: 1234},
	}
	state.Dependencies[1] = []location.FileID{2}
	state.Visited[2] = "/src/h.h"
	state.Dirty = []location.FileID{1}
	state.CompDB = &CompDBInfo{
		Dir:             "/src",
		LastModified:    99,
		PathEnvironment: "/usr/bin",
		IndexFlags:      []string{"--progress"},
	}

	if err := db.SaveState(state); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	got, err := db.LoadState()
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}

	if got.Files[1] != "/src/a.c" || got.Files[2] != "/src/h.h" {
		t.Errorf("Files = %v", got.Files)
	}
	if len(got.Sources[1]) != 2 {
		t.Fatalf("Sources[1] = %v, want both argument sets", got.Sources[1])
	}
	wantKeys := map[uint64]bool{
		state.Sources[1][0].Key(): true,
		state.Sources[1][1].Key(): true,
	}
	for _, src := range got.Sources[1] {
		if !wantKeys[src.Key()] {
			t.Errorf("unexpected source key for %+v", src)
		}
	}
	if len(got.Dependencies[1]) != 1 || got.Dependencies[1][0] != 2 {
		t.Errorf("Dependencies = %v", got.Dependencies)
	}
	if got.Visited[2] != "/src/h.h" {
		t.Errorf("Visited = %v", got.Visited)
	}
	if len(got.Dirty) != 1 || got.Dirty[0] != 1 {
		t.Errorf("Dirty = %v", got.Dirty)
	}
	if got.CompDB == nil || got.CompDB.Dir != "/src" || len(got.CompDB.IndexFlags) != 1 {
		t.Errorf("CompDB = %+v", got.CompDB)
	}
}

func TestSaveReplacesPreviousState(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close() //nolint:errcheck

	first := NewProjectState()
	first.Files[1] = "/src/old.c"
	first.Dirty = []location.FileID{1, 2, 3}
	if err := db.SaveState(first); err != nil {
		t.Fatal(err)
	}

	second := NewProjectState()
	second.Files[9] = "/src/new.c"
	if err := db.SaveState(second); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Files) != 1 || got.Files[9] != "/src/new.c" {
		t.Errorf("Files = %v, want only the new entry", got.Files)
	}
	if len(got.Dirty) != 0 {
		t.Errorf("Dirty = %v, want empty", got.Dirty)
	}
}

func TestReadSources(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)

	state := NewProjectState()
	state.Files[3] = "/src/x.c"
	state.Sources[3] = []indexer.Source{
		{FileID: 3, Path: "/src/x.c", Args: []string{"-g"}, Compiler: "clang"},
	}
	if err := db.SaveState(state); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	sources, err := ReadSources(filepath.Join(dir, dbFile))
	if err != nil {
		t.Fatalf("ReadSources() error = %v", err)
	}
	if len(sources[3]) != 1 || sources[3][0].Compiler != "clang" {
		t.Errorf("ReadSources = %v", sources)
	}
}
