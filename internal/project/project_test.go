package project

import (
	"sync/atomic"
	"testing"
	"time"

	"xref/internal/config"
	"xref/internal/depgraph"
	"xref/internal/filemap"
	"xref/internal/indexer"
	"xref/internal/location"
	"xref/internal/logging"
	"xref/internal/symbol"
)

// backendFunc adapts a closure to indexer.Backend.
type backendFunc func(*indexer.Job, indexer.VisitController) (*indexer.Result, error)

func (f backendFunc) Run(job *indexer.Job, visits indexer.VisitController) (*indexer.Result, error) {
	return f(job, visits)
}

// emptyResult is a backend that indexes nothing.
func emptyResult(job *indexer.Job, visits indexer.VisitController) (*indexer.Result, error) {
	return indexer.NewResult(job.SourceKey()), nil
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig(t.TempDir())
	cfg.Watcher.Enabled = false
	cfg.Index.Workers = 2
	cfg.Index.DirtyDebounceMs = 10
	return cfg
}

// newTestProject builds and initializes a project. The caller decides when to
// Start; started projects are stopped at cleanup.
func newTestProject(t *testing.T, cfg *config.Config, backend indexer.Backend) *Project {
	t.Helper()
	p, err := New(cfg, backend, logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return p
}

func startProject(t *testing.T, p *Project) {
	t.Helper()
	p.Start()
	t.Cleanup(func() {
		if err := p.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// addSource registers a source on an unstarted project.
func addSource(p *Project, path string) indexer.Source {
	id := p.registry.InsertFile(path)
	src := indexer.Source{
		FileID:   id,
		Path:     path,
		Args:     []string{"-O2"},
		Compiler: "/usr/bin/cc",
	}
	p.sources[id] = append(p.sources[id], src)
	return src
}

func TestDirtyPropagation(t *testing.T) {
	// Graph: a.c -> h1.h -> h2.h. Only a.c has a source, so dirtying h2.h
	// must start exactly one job, for a.c.
	indexed := make(chan string, 16)
	backend := backendFunc(func(job *indexer.Job, visits indexer.VisitController) (*indexer.Result, error) {
		indexed <- job.Source.Path
		return indexer.NewResult(job.SourceKey()), nil
	})

	cfg := newTestConfig(t)
	p := newTestProject(t, cfg, backend)

	src := addSource(p, "/src/a.c")
	h1 := p.registry.InsertFile("/src/h1.h")
	h2 := p.registry.InsertFile("/src/h2.h")
	p.deps.Link(src.FileID, h1)
	p.deps.Link(h1, h2)

	startProject(t, p)
	p.Dirty(h2)

	select {
	case path := <-indexed:
		if path != "/src/a.c" {
			t.Errorf("indexed %q, want /src/a.c", path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no job started after dirty")
	}

	// Headers without sources must not get jobs of their own.
	select {
	case path := <-indexed:
		t.Errorf("unexpected extra job for %q", path)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestJobSupersession(t *testing.T) {
	gate := make(chan struct{})
	firstRunning := make(chan struct{})
	var runs atomic.Int32

	backend := backendFunc(func(job *indexer.Job, visits indexer.VisitController) (*indexer.Result, error) {
		if runs.Add(1) == 1 {
			visits.VisitFile(100, "/hdr/h100.h", job.SourceKey())
			visits.VisitFile(101, "/hdr/h101.h", job.SourceKey())
			close(firstRunning)
			<-gate
			// The superseded job completes anyway; its result must be
			// discarded by the registry.
			res := indexer.NewResult(job.SourceKey())
			res.Visited[100] = struct{}{}
			res.Visited[101] = struct{}{}
			res.Includes[job.Source.FileID] = []location.FileID{100, 101}
			return res, nil
		}
		return indexer.NewResult(job.SourceKey()), nil
	})

	cfg := newTestConfig(t)
	p := newTestProject(t, cfg, backend)
	src := addSource(p, "/src/a.c")
	startProject(t, p)

	j1 := indexer.NewJob(src, indexer.ReasonReindex)
	p.Index(j1)
	<-firstRunning

	visited := p.VisitedFiles()
	if _, ok := visited[100]; !ok {
		t.Fatal("file 100 should be claimed while J1 runs")
	}

	j2 := indexer.NewJob(src, indexer.ReasonReindex)
	p.Index(j2)

	p.mu.Lock()
	current := p.activeJobs[src.Key()]
	p.mu.Unlock()
	if current != j2 {
		t.Fatal("J2 should have replaced J1 in the active job table")
	}
	if !j1.Cancelled() {
		t.Error("J1 should be cancelled after supersession")
	}

	close(gate)
	waitFor(t, "both jobs to finish", func() bool {
		return runs.Load() >= 2 && !p.IsIndexing()
	})
	waitFor(t, "file ids to be released", func() bool {
		return len(p.VisitedFiles()) == 0
	})

	// J1's discarded result must not have touched the dependency graph.
	p.call(func() {
		if p.deps.Contains(100) || p.deps.Contains(101) {
			t.Error("superseded job's dependencies were merged")
		}
		if got := p.deps.Includes(src.FileID); len(got) != 0 {
			t.Errorf("Includes(src) = %v, want empty", got)
		}
	})
}

func TestDirtyDuringIndexIsNotLost(t *testing.T) {
	gate := make(chan struct{})
	firstRunning := make(chan struct{})
	var runs atomic.Int32

	backend := backendFunc(func(job *indexer.Job, visits indexer.VisitController) (*indexer.Result, error) {
		if runs.Add(1) == 1 {
			close(firstRunning)
			<-gate
		}
		return indexer.NewResult(job.SourceKey()), nil
	})

	cfg := newTestConfig(t)
	p := newTestProject(t, cfg, backend)
	src := addSource(p, "/src/a.c")
	startProject(t, p)

	p.Dirty(src.FileID)
	<-firstRunning

	// A dirty signal while the job runs must eventually produce another job.
	p.Dirty(src.FileID)
	close(gate)

	waitFor(t, "a second index run", func() bool {
		return runs.Load() >= 2
	})
}

func TestResultMergeUpdatesGraphAndMaps(t *testing.T) {
	cfg := newTestConfig(t)

	backend := backendFunc(func(job *indexer.Job, visits indexer.VisitController) (*indexer.Result, error) {
		res := indexer.NewResult(job.SourceKey())
		srcID := job.Source.FileID

		visits.VisitFile(srcID, job.Source.Path, job.SourceKey())
		res.Visited[srcID] = struct{}{}

		loc := location.Location{FileID: srcID, Line: 1, Column: 1}
		tables := filemap.NewFileTables()
		tables.Symbols = []symbol.Symbol{{
			Location: loc, Length: 4, Kind: symbol.KindFunction,
			Name: "main", USR: "c:main", Flags: symbol.FlagDefinition,
		}}
		tables.SymbolNames["main"] = []location.Location{loc}
		tables.Usrs["c:main"] = []location.Location{loc}
		res.Tables[srcID] = tables

		res.Diagnostics[srcID] = []indexer.Diagnostic{{
			Level:    indexer.DiagnosticWarning,
			Location: loc,
			Message:  "unused variable",
		}}
		res.FixIts[srcID] = []indexer.FixIt{{Line: 1, Column: 1, Length: 4, Replacement: "Main"}}
		return res, nil
	})

	p := newTestProject(t, cfg, backend)
	src := addSource(p, "/src/a.c")
	startProject(t, p)

	count, wait := p.Reindex("")
	if count != 1 {
		t.Fatalf("Reindex started %d jobs, want 1", count)
	}
	<-wait

	// Every visited file has a graph node after the merge.
	p.call(func() {
		if !p.deps.Contains(src.FileID) {
			t.Error("visited file missing from dependency graph")
		}
	})

	if diags := p.Diagnose(src.FileID); len(diags) != 1 || diags[0].Message != "unused variable" {
		t.Errorf("Diagnose = %v", diags)
	}
	if fixes := p.FixIts(src.FileID); len(fixes) != 1 || fixes[0].Replacement != "Main" {
		t.Errorf("FixIts = %v", fixes)
	}

	sym, _, ok := p.FindSymbol(location.Location{FileID: src.FileID, Line: 1, Column: 2})
	if !ok || sym.Name != "main" {
		t.Errorf("FindSymbol after merge = %+v, %v", sym, ok)
	}
}

func TestVisitFileClaims(t *testing.T) {
	cfg := newTestConfig(t)
	p := newTestProject(t, cfg, backendFunc(emptyResult))

	if !p.VisitFile(5, "/src/h.h", 1) {
		t.Fatal("first claim should succeed")
	}
	if p.VisitFile(5, "/src/h.h", 2) {
		t.Error("second claim before release should fail")
	}
	p.ReleaseFileIDs([]location.FileID{5})
	if !p.VisitFile(5, "/src/h.h", 2) {
		t.Error("claim after release should succeed")
	}
	if err := p.db.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRemoveCleansUp(t *testing.T) {
	cfg := newTestConfig(t)
	p := newTestProject(t, cfg, backendFunc(emptyResult))

	src := addSource(p, "/src/gone.c")
	hdr := p.registry.InsertFile("/src/gone.h")
	p.deps.Link(src.FileID, hdr)
	p.pendingDirty[src.FileID] = struct{}{}

	tables := filemap.NewFileTables()
	tables.Symbols = []symbol.Symbol{{
		Location: location.Location{FileID: src.FileID, Line: 1, Column: 1},
		Length:   1, Kind: symbol.KindFunction, Name: "f", USR: "c:f",
	}}
	if err := p.maps.WriteFileMaps(src.FileID, tables); err != nil {
		t.Fatal(err)
	}

	startProject(t, p)
	if removed := p.Remove("gone.c"); removed != 1 {
		t.Fatalf("Remove() = %d, want 1", removed)
	}

	p.call(func() {
		if _, ok := p.sources[src.FileID]; ok {
			t.Error("source still registered after Remove")
		}
		if p.deps.Contains(src.FileID) {
			t.Error("dependency node still present after Remove")
		}
		if _, ok := p.pendingDirty[src.FileID]; ok {
			t.Error("pending dirty entry still present after Remove")
		}
		if got := p.deps.Dependents(hdr); len(got) != 0 {
			t.Errorf("header still lists dependents %v after Remove", got)
		}
	})

	if _, err := p.maps.Open(src.FileID, filemap.Symbols); err == nil {
		t.Error("symbol maps still on disk after Remove")
	}
}

func TestWatchBitset(t *testing.T) {
	cfg := newTestConfig(t)
	p := newTestProject(t, cfg, backendFunc(emptyResult))
	defer p.db.Close() //nolint:errcheck

	type op struct {
		unwatch bool
		dir     string
		mode    WatchMode
	}
	ops := []op{
		{false, "/a", WatchSourceFile},
		{false, "/a", WatchDependency},
		{false, "/b", WatchCompilationDatabase},
		{true, "/a", WatchSourceFile},
		{false, "/a", WatchFileManager},
		{true, "/b", WatchCompilationDatabase},
		{true, "/a", WatchDependency | WatchFileManager},
		{false, "/c", WatchSourceFile | WatchDependency},
	}

	model := make(map[string]WatchMode)
	// Init has already primed the compilation-database directory watch.
	for dir, mode := range p.watchedPaths {
		model[dir] = mode
	}
	for _, o := range ops {
		if o.unwatch {
			p.unwatch(o.dir, o.mode)
			if m := model[o.dir] &^ o.mode; m == 0 {
				delete(model, o.dir)
			} else {
				model[o.dir] = m
			}
		} else {
			p.watch(o.dir, o.mode)
			model[o.dir] |= o.mode
		}

		if len(p.watchedPaths) != len(model) {
			t.Fatalf("after %+v: %d watched paths, want %d", o, len(p.watchedPaths), len(model))
		}
		for dir, mode := range model {
			if got := p.watchedPaths[dir]; got != mode {
				t.Errorf("after %+v: bits for %s = %b, want %b", o, dir, got, mode)
			}
		}
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	cfg := newTestConfig(t)
	p1 := newTestProject(t, cfg, backendFunc(emptyResult))

	a := addSource(p1, "/src/a.c")
	b := addSource(p1, "/src/b.c")
	// Second argument set for the same file.
	extra := indexer.Source{
		FileID:   a.FileID,
		Path:     a.Path,
		Args:     []string{"-O0", "-DDEBUG"},
		Compiler: "/usr/bin/cc",
	}
	p1.sources[a.FileID] = append(p1.sources[a.FileID], extra)

	h1 := p1.registry.InsertFile("/src/h1.h")
	h2 := p1.registry.InsertFile("/src/h2.h")
	p1.deps.Link(a.FileID, h1)
	p1.deps.Link(h1, h2)
	p1.deps.Link(b.FileID, h1)

	if err := p1.save(); err != nil {
		t.Fatalf("save() error = %v", err)
	}
	if err := p1.db.Close(); err != nil {
		t.Fatal(err)
	}

	p2 := newTestProject(t, cfg, backendFunc(emptyResult))
	defer p2.db.Close() //nolint:errcheck

	// Dependency closures must be identical for every file in both modes.
	for _, f := range []location.FileID{a.FileID, b.FileID, h1, h2} {
		for _, mode := range []depgraph.Mode{depgraph.DependsOnArg, depgraph.ArgDependsOn} {
			want := p1.deps.Dependencies(f, mode)
			got := p2.deps.Dependencies(f, mode)
			if len(want) != len(got) {
				t.Fatalf("Dependencies(%d, %v): got %v, want %v", f, mode, got, want)
			}
			for id := range want {
				if _, ok := got[id]; !ok {
					t.Errorf("Dependencies(%d, %v) missing %d", f, mode, id)
				}
			}
		}
	}

	// Sources survive keyed by source key.
	keys := func(p *Project) map[uint64]bool {
		out := make(map[uint64]bool)
		for _, srcs := range p.sources {
			for _, src := range srcs {
				out[src.Key()] = true
			}
		}
		return out
	}
	wantKeys, gotKeys := keys(p1), keys(p2)
	if len(wantKeys) != 3 || len(gotKeys) != len(wantKeys) {
		t.Fatalf("source keys: got %d, want %d", len(gotKeys), len(wantKeys))
	}
	for k := range wantKeys {
		if !gotKeys[k] {
			t.Errorf("source key %d lost in round trip", k)
		}
	}

	// Paths keep their ids.
	if p2.registry.Path(h2) != "/src/h2.h" {
		t.Errorf("Path(%d) = %q after restore", h2, p2.registry.Path(h2))
	}
}

func TestFindSymbolsWildcard(t *testing.T) {
	cfg := newTestConfig(t)
	p := newTestProject(t, cfg, backendFunc(emptyResult))

	id := p.registry.InsertFile("/src/names.c")
	tables := filemap.NewFileTables()
	line := uint32(1)
	for _, name := range []string{"foobar", "fooXbar", "foo", "bar"} {
		loc := location.Location{FileID: id, Line: line, Column: 1}
		line++
		tables.Symbols = append(tables.Symbols, symbol.Symbol{
			Location: loc, Length: uint32(len(name)),
			Kind: symbol.KindFunction, Name: name, USR: "c:" + name,
			Flags: symbol.FlagDefinition,
		})
		tables.SymbolNames[name] = []location.Location{loc}
	}
	if err := p.maps.WriteFileMaps(id, tables); err != nil {
		t.Fatal(err)
	}

	startProject(t, p)

	got := make(map[string]MatchType)
	p.FindSymbols("foo*bar", func(match MatchType, name string, locs []location.Location) {
		got[name] = match
	}, QueryStartsWith, id)

	if len(got) != 2 {
		t.Fatalf("FindSymbols matched %v, want foobar and fooXbar only", got)
	}
	for _, name := range []string{"foobar", "fooXbar"} {
		if match, ok := got[name]; !ok || match != MatchWildcard {
			t.Errorf("%s: match = %v, ok = %v, want Wildcard", name, match, ok)
		}
	}
}

func TestFindSymbolsExactAndPrefix(t *testing.T) {
	cfg := newTestConfig(t)
	p := newTestProject(t, cfg, backendFunc(emptyResult))

	id := p.registry.InsertFile("/src/names.c")
	tables := filemap.NewFileTables()
	for i, name := range []string{"frob", "frobnicate"} {
		loc := location.Location{FileID: id, Line: uint32(i + 1), Column: 1}
		tables.Symbols = append(tables.Symbols, symbol.Symbol{
			Location: loc, Length: uint32(len(name)),
			Kind: symbol.KindFunction, Name: name, USR: "c:" + name,
			Flags: symbol.FlagDefinition,
		})
		tables.SymbolNames[name] = []location.Location{loc}
	}
	if err := p.maps.WriteFileMaps(id, tables); err != nil {
		t.Fatal(err)
	}

	startProject(t, p)

	got := make(map[string]MatchType)
	p.FindSymbols("frob", func(match MatchType, name string, locs []location.Location) {
		got[name] = match
	}, QueryStartsWith, id)

	if match, ok := got["frob"]; !ok || match != MatchExact {
		t.Errorf("frob matched as %v (ok=%v), want Exact", match, ok)
	}
	if match, ok := got["frobnicate"]; !ok || match != MatchStartsWith {
		t.Errorf("frobnicate matched as %v (ok=%v), want StartsWith", match, ok)
	}
}
