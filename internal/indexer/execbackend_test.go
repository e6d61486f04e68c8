package indexer

import (
	"sync"
	"testing"

	"xref/internal/location"
)

type recordingVisits struct {
	mu      sync.Mutex
	claimed map[location.FileID]string
	refuse  map[location.FileID]bool
}

func newRecordingVisits() *recordingVisits {
	return &recordingVisits{claimed: make(map[location.FileID]string)}
}

func (v *recordingVisits) VisitFile(id location.FileID, path string, sourceKey uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.refuse[id] {
		return false
	}
	if _, ok := v.claimed[id]; ok {
		return false
	}
	v.claimed[id] = path
	return true
}

func (v *recordingVisits) ReleaseFileIDs(ids []location.FileID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		delete(v.claimed, id)
	}
}

const sampleOutput = `{
  "files": [
    {
      "path": "/src/a.c",
      "includes": ["/src/h.h"],
      "symbols": [
        {
          "location": {"file": "/src/a.c", "line": 1, "column": 1},
          "length": 4,
          "kind": "function",
          "name": "main",
          "usr": "c:main",
          "definition": true
        }
      ],
      "targets": {
        "c:frob": [
          {"location": {"file": "/src/a.c", "line": 3, "column": 5}, "kind": "function", "reference": true},
          {"location": {"file": "/src/h.h", "line": 1, "column": 1}, "kind": "function"}
        ]
      }
    },
    {
      "path": "/src/h.h",
      "includes": [],
      "symbols": [],
      "targets": {}
    }
  ],
  "diagnostics": {
    "/src/a.c": [
      {"level": "warning", "location": {"file": "/src/a.c", "line": 3, "column": 5}, "message": "deprecated"}
    ]
  }
}`

func TestExecBackendTranslatesWireResult(t *testing.T) {
	registry := location.NewRegistry()
	backend := &ExecBackend{
		Command:  []string{"sh", "-c", "cat > /dev/null; cat <<'EOF'\n" + sampleOutput + "\nEOF"},
		Registry: registry,
	}
	visits := newRecordingVisits()
	job := NewJob(Source{Path: "/src/a.c", Compiler: "cc"}, ReasonDirty)

	result, err := backend.Run(job, visits)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	aID := registry.FileID("/src/a.c")
	hID := registry.FileID("/src/h.h")
	if aID == 0 || hID == 0 {
		t.Fatal("wire paths were not registered")
	}

	if len(result.Visited) != 2 {
		t.Errorf("Visited = %v, want both files", result.Visited)
	}
	if got := result.Includes[aID]; len(got) != 1 || got[0] != hID {
		t.Errorf("Includes[a.c] = %v, want [h.h]", got)
	}

	tables := result.Tables[aID]
	if tables == nil || len(tables.Symbols) != 1 {
		t.Fatalf("Tables[a.c] = %+v", tables)
	}
	sym := tables.Symbols[0]
	if sym.Name != "main" || !sym.IsDefinition() || sym.Location.FileID != aID {
		t.Errorf("symbol = %+v", sym)
	}
	// Names and usrs are derived from the symbol records.
	if len(tables.SymbolNames["main"]) != 1 || len(tables.Usrs["c:main"]) != 1 {
		t.Errorf("derived maps = names %v, usrs %v", tables.SymbolNames, tables.Usrs)
	}
	refs := tables.Targets["c:frob"]
	if len(refs) != 2 {
		t.Fatalf("Targets[c:frob] = %v", refs)
	}

	if len(result.Diagnostics[aID]) != 1 || result.Diagnostics[aID][0].Message != "deprecated" {
		t.Errorf("Diagnostics = %v", result.Diagnostics)
	}
}

func TestExecBackendSkipsFilesClaimedElsewhere(t *testing.T) {
	registry := location.NewRegistry()
	// Pre-claim h.h under another job's key.
	hID := registry.InsertFile("/src/h.h")
	visits := newRecordingVisits()
	visits.refuse = map[location.FileID]bool{hID: true}

	backend := &ExecBackend{
		Command:  []string{"sh", "-c", "cat > /dev/null; cat <<'EOF'\n" + sampleOutput + "\nEOF"},
		Registry: registry,
	}
	job := NewJob(Source{Path: "/src/a.c", Compiler: "cc"}, ReasonDirty)

	result, err := backend.Run(job, visits)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, ok := result.Visited[hID]; ok {
		t.Error("file claimed by another job must not appear in the result")
	}
	aID := registry.FileID("/src/a.c")
	if _, ok := result.Visited[aID]; !ok {
		t.Error("unclaimed file should be visited")
	}
}

func TestExecBackendWithoutCommand(t *testing.T) {
	backend := &ExecBackend{Registry: location.NewRegistry()}
	job := NewJob(Source{Path: "/src/a.c"}, ReasonDirty)
	if _, err := backend.Run(job, newRecordingVisits()); err == nil {
		t.Error("Run() without a command must fail")
	}
}
