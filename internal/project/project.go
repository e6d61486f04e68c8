// Package project owns the indexed symbol database for one tree of
// translation units: the dependency graph, the active job registry, dirty
// tracking, filesystem watching, persistence and the query surface.
//
// All project state except the visited-files table and the active-job
// registry is confined to a single run-loop goroutine. External entry points post closures onto the loop;
// synchronous operations post and wait. Indexer workers touch the project
// only through VisitFile/ReleaseFileIDs (mutex-guarded) and by delivering
// results to the completion channel the loop drains.
package project

import (
	"fmt"
	"os"
	"sync"
	"time"

	"xref/internal/config"
	"xref/internal/depgraph"
	"xref/internal/filemap"
	"xref/internal/indexer"
	"xref/internal/location"
	"xref/internal/logging"
	"xref/internal/storage"
	"xref/internal/watcher"
)

// Project is the per-project core of the cross-reference engine.
type Project struct {
	config   *config.Config
	logger   *logging.Logger
	registry *location.Registry
	maps     *filemap.Store
	db       *storage.DB
	deps     *depgraph.Graph
	pool     *indexer.Pool
	watcher  *watcher.Watcher

	// Run-loop-exclusive state.
	sources      map[location.FileID][]indexer.Source
	fixIts       map[location.FileID][]indexer.FixIt
	diagnostics  map[location.FileID][]indexer.Diagnostic
	suspended    map[location.FileID]struct{}
	watchedPaths map[string]WatchMode
	pendingDirty map[location.FileID]struct{}
	compDB       *storage.CompDBInfo
	waiters      []*reindexWaiter

	dirtyDebounce *watcher.Debouncer

	// Shared with indexer workers, guarded by mu: the visited-files table
	// and the active-job registry it attributes claims to. Nothing else is
	// allowed under this lock.
	mu           sync.Mutex
	visitedFiles map[location.FileID]string
	activeJobs   map[uint64]*indexer.Job

	tasks   chan func()
	done    chan struct{}
	stopped chan struct{}
}

// New creates a project for the given configuration. Call Init before Start.
func New(cfg *config.Config, backend indexer.Backend, logger *logging.Logger) (*Project, error) {
	p := &Project{
		config:       cfg,
		logger:       logger.With(map[string]interface{}{"project": cfg.ProjectRoot}),
		registry:     location.NewRegistry(),
		deps:         depgraph.New(),
		sources:      make(map[location.FileID][]indexer.Source),
		fixIts:       make(map[location.FileID][]indexer.FixIt),
		diagnostics:  make(map[location.FileID][]indexer.Diagnostic),
		suspended:    make(map[location.FileID]struct{}),
		watchedPaths: make(map[string]WatchMode),
		pendingDirty: make(map[location.FileID]struct{}),
		visitedFiles: make(map[location.FileID]string),
		activeJobs:   make(map[uint64]*indexer.Job),
		tasks:        make(chan func(), 64),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	var mapOpts filemap.Options
	if cfg.Query.ValidateFileMaps {
		mapOpts |= filemap.OptionValidate
	}
	p.maps = filemap.NewStore(cfg.AbsDataDir(), mapOpts)

	p.dirtyDebounce = watcher.NewDebouncer(time.Duration(cfg.Index.DirtyDebounceMs) * time.Millisecond)

	p.pool = indexer.NewPool(backend, p, indexer.PoolConfig{
		Workers:   cfg.Index.Workers,
		QueueSize: cfg.Index.QueueSize,
	}, logger)

	if cfg.Watcher.Enabled {
		w, err := watcher.New(cfg.Watcher, logger, p)
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		p.watcher = w
	}

	return p, nil
}

// Init loads persisted state, primes watchers and schedules dirty jobs for
// files whose on-disk stamp no longer matches. It must be called before
// Start; a failed Init aborts project startup.
func (p *Project) Init() error {
	db, fresh, err := storage.Open(p.config.AbsDataDir(), p.logger)
	if err != nil {
		return fmt.Errorf("open project database: %w", err)
	}
	p.db = db

	state, err := db.LoadState()
	if err != nil {
		// Per the recovery contract this degrades to an empty project
		// rather than failing startup.
		p.logger.Warn("Failed to load project state, starting empty", map[string]interface{}{
			"error": err.Error(),
		})
		state = storage.NewProjectState()
		fresh = true
	}

	for id, path := range state.Files {
		p.registry.Restore(path, id)
	}
	p.sources = state.Sources
	if p.sources == nil {
		p.sources = make(map[location.FileID][]indexer.Source)
	}
	p.deps = depgraph.Load(state.Dependencies)
	p.compDB = state.CompDB

	// Files that were mid-index at the last shutdown never finished; treat
	// them like dirty files.
	for id := range state.Visited {
		p.pendingDirty[id] = struct{}{}
	}
	for _, id := range state.Dirty {
		p.pendingDirty[id] = struct{}{}
	}

	// Stale sources: on-disk mtime no longer matches the persisted stamp.
	for id, srcs := range p.sources {
		for _, src := range srcs {
			st, err := os.Stat(src.Path)
			if err != nil || st.ModTime().Unix() != src.ModTime {
				p.pendingDirty[id] = struct{}{}
				break
			}
		}
	}
	if fresh {
		for id := range p.sources {
			p.pendingDirty[id] = struct{}{}
		}
	}

	p.primeWatchers()

	p.logger.Info("Project initialized", map[string]interface{}{
		"sources":      len(p.sources),
		"dependencies": p.deps.Size(),
		"dirty":        len(p.pendingDirty),
	})
	return nil
}

// Start launches the run loop, the indexer pool and the watcher, and arms the
// dirty timer if Init found stale files.
func (p *Project) Start() {
	p.pool.Start()
	if p.watcher != nil {
		p.watcher.Start()
	}
	go p.run()

	if len(p.pendingDirty) > 0 {
		p.armDirtyTimer()
	}
}

// Stop cancels outstanding jobs, drains the pool, saves state and closes the
// database.
func (p *Project) Stop() error {
	p.call(func() {
		p.mu.Lock()
		for _, job := range p.activeJobs {
			job.Cancel()
		}
		p.mu.Unlock()
	})
	p.dirtyDebounce.Cancel()

	var watchErr error
	if p.watcher != nil {
		watchErr = p.watcher.Stop()
	}

	poolErr := p.pool.Stop(30 * time.Second)

	var saveErr error
	p.call(func() {
		saveErr = p.save()
	})

	close(p.done)
	<-p.stopped

	dbErr := p.db.Close()

	for _, err := range []error{watchErr, poolErr, saveErr, dbErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Project) run() {
	defer close(p.stopped)
	for {
		select {
		case fn := <-p.tasks:
			fn()
		case c := <-p.pool.Completions():
			p.onJobCompletion(c)
		case <-p.done:
			return
		}
	}
}

// post queues fn on the run loop without waiting.
func (p *Project) post(fn func()) {
	select {
	case p.tasks <- fn:
	case <-p.done:
	}
}

// call runs fn on the run loop and waits for it. It must not be invoked from
// the loop itself.
func (p *Project) call(fn func()) {
	doneCh := make(chan struct{})
	select {
	case p.tasks <- func() {
		fn()
		close(doneCh)
	}:
		<-doneCh
	case <-p.done:
	}
}

// save persists the current state in one transaction. Never called while a
// job is mid-merge: the run loop serializes merging and saving.
func (p *Project) save() error {
	state := storage.NewProjectState()
	state.Files = p.registry.All()
	state.Sources = p.sources
	for _, id := range p.deps.Files() {
		state.Dependencies[id] = p.deps.Includes(id)
	}

	p.mu.Lock()
	for id, path := range p.visitedFiles {
		state.Visited[id] = path
	}
	p.mu.Unlock()

	for id := range p.pendingDirty {
		state.Dirty = append(state.Dirty, id)
	}
	state.CompDB = p.compDB

	if err := p.db.SaveState(state); err != nil {
		return fmt.Errorf("save project state: %w", err)
	}
	p.logger.Debug("Project state saved", map[string]interface{}{
		"sources": len(state.Sources),
	})
	return nil
}

// Save persists the project state synchronously.
func (p *Project) Save() error {
	var err error
	p.call(func() {
		err = p.save()
	})
	return err
}

// VisitFile claims fileID for the job registered under sourceKey. The first
// caller per file wins; later jobs skip re-walking the file. Called by
// indexer workers.
func (p *Project) VisitFile(fileID location.FileID, path string, sourceKey uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.visitedFiles[fileID]; ok {
		return false
	}
	p.visitedFiles[fileID] = path
	if job, ok := p.activeJobs[sourceKey]; ok {
		job.Visited[fileID] = struct{}{}
	}
	return true
}

// ReleaseFileIDs returns claimed file ids, typically when a job aborts.
// Called by indexer workers.
func (p *Project) ReleaseFileIDs(ids []location.FileID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.visitedFiles, id)
	}
}

// VisitedFiles returns a snapshot of the visited-files table.
func (p *Project) VisitedFiles() map[location.FileID]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[location.FileID]string, len(p.visitedFiles))
	for id, path := range p.visitedFiles {
		out[id] = path
	}
	return out
}

// Registry exposes the file-id registry.
func (p *Project) Registry() *location.Registry {
	return p.registry
}

// Sources returns a snapshot of all sources keyed by file id.
func (p *Project) Sources() map[location.FileID][]indexer.Source {
	var out map[location.FileID][]indexer.Source
	p.call(func() {
		out = make(map[location.FileID][]indexer.Source, len(p.sources))
		for id, srcs := range p.sources {
			out[id] = append([]indexer.Source(nil), srcs...)
		}
	})
	return out
}

// IsIndexing reports whether any job is active.
func (p *Project) IsIndexing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.activeJobs) > 0
}

// Stats returns a summary for the status surface.
func (p *Project) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	p.call(func() {
		p.mu.Lock()
		active := len(p.activeJobs)
		visited := len(p.visitedFiles)
		p.mu.Unlock()

		stats["root"] = p.config.ProjectRoot
		stats["sources"] = len(p.sources)
		stats["dependencyNodes"] = p.deps.Size()
		stats["activeJobs"] = active
		stats["visitedFiles"] = visited
		stats["pendingDirty"] = len(p.pendingDirty)
		stats["suspendedFiles"] = len(p.suspended)
		stats["watchedPaths"] = len(p.watchedPaths)
	})
	return stats
}

// EstimateMemory approximates the resident size of project state in bytes,
// per component.
func (p *Project) EstimateMemory() map[string]int {
	est := make(map[string]int)
	p.call(func() {
		srcBytes := 0
		for _, srcs := range p.sources {
			for _, src := range srcs {
				srcBytes += len(src.Path) + len(src.Compiler) + 16
				for _, a := range src.Args {
					srcBytes += len(a)
				}
			}
		}
		est["sources"] = srcBytes
		est["dependencyGraph"] = p.deps.Size() * 64

		diagBytes := 0
		for _, diags := range p.diagnostics {
			for _, d := range diags {
				diagBytes += len(d.Message) + 24
			}
		}
		est["diagnostics"] = diagBytes

		fixBytes := 0
		for _, fixes := range p.fixIts {
			for _, f := range fixes {
				fixBytes += len(f.Replacement) + 16
			}
		}
		est["fixIts"] = fixBytes

		p.mu.Lock()
		visBytes := 0
		for _, path := range p.visitedFiles {
			visBytes += len(path) + 8
		}
		p.mu.Unlock()
		est["visitedFiles"] = visBytes
	})
	return est
}
