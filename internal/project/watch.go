package project

import (
	"path/filepath"
	"sort"
)

// WatchMode says why a directory is watched. A directory may carry several
// bits; it stays registered until all are cleared.
type WatchMode uint8

const (
	WatchFileManager WatchMode = 1 << iota
	WatchSourceFile
	WatchDependency
	WatchCompilationDatabase
)

// Watch sets mode for dir and registers a filesystem watch on first use.
func (p *Project) Watch(dir string, mode WatchMode) {
	p.call(func() {
		p.watch(dir, mode)
	})
}

// watch runs on the loop.
func (p *Project) watch(dir string, mode WatchMode) {
	if dir == "" || mode == 0 {
		return
	}
	prev := p.watchedPaths[dir]
	p.watchedPaths[dir] = prev | mode
	if prev == 0 && p.watcher != nil {
		if err := p.watcher.Watch(dir); err != nil {
			// Keep running without this watch.
			p.logger.Warn("Failed to watch directory", map[string]interface{}{
				"dir":   dir,
				"error": err.Error(),
			})
		}
	}
}

// Unwatch clears mode for dir; the watch is unregistered when no bits remain.
func (p *Project) Unwatch(dir string, mode WatchMode) {
	p.call(func() {
		p.unwatch(dir, mode)
	})
}

func (p *Project) unwatch(dir string, mode WatchMode) {
	cur, ok := p.watchedPaths[dir]
	if !ok {
		return
	}
	cur &^= mode
	if cur == 0 {
		delete(p.watchedPaths, dir)
		if p.watcher != nil {
			p.watcher.Unwatch(dir)
		}
		return
	}
	p.watchedPaths[dir] = cur
}

// ClearWatch clears the masked bits across all watched paths, unregistering
// any path left with no bits.
func (p *Project) ClearWatch(mask WatchMode) {
	p.call(func() {
		dirs := make([]string, 0, len(p.watchedPaths))
		for dir := range p.watchedPaths {
			dirs = append(dirs, dir)
		}
		for _, dir := range dirs {
			p.unwatch(dir, mask)
		}
	})
}

// WatchedPaths returns a snapshot of the watch table.
func (p *Project) WatchedPaths() map[string]WatchMode {
	var out map[string]WatchMode
	p.call(func() {
		out = make(map[string]WatchMode, len(p.watchedPaths))
		for dir, mode := range p.watchedPaths {
			out[dir] = mode
		}
	})
	return out
}

// primeWatchers registers watches for every known source and dependency
// directory plus the compilation database. Runs before Start, loop-free.
func (p *Project) primeWatchers() {
	for _, srcs := range p.sources {
		for _, src := range srcs {
			p.watch(filepath.Dir(src.Path), WatchSourceFile)
		}
	}
	for _, id := range p.deps.Files() {
		if path := p.registry.Path(id); path != "" {
			p.watch(filepath.Dir(path), WatchDependency)
		}
	}
	if compdb := p.config.CompilationDatabasePath(); compdb != "" {
		p.watch(filepath.Dir(compdb), WatchCompilationDatabase)
	}
}

// OnFileAdded implements watcher.Handler.
func (p *Project) OnFileAdded(path string) {
	p.post(func() {
		p.onFileChanged(path)
	})
}

// OnFileModified implements watcher.Handler.
func (p *Project) OnFileModified(path string) {
	p.post(func() {
		p.onFileChanged(path)
	})
}

// OnFileRemoved implements watcher.Handler.
func (p *Project) OnFileRemoved(path string) {
	p.post(func() {
		if path == p.config.CompilationDatabasePath() {
			p.logger.Warn("Compilation database removed", map[string]interface{}{
				"path": path,
			})
			return
		}
		id := p.registry.FileID(path)
		if id == 0 {
			return
		}
		if _, isSource := p.sources[id]; isSource {
			p.removeSource(id)
			return
		}
		if p.deps.Contains(id) {
			p.dirty(id)
		}
	})
}

// onFileChanged runs on the loop for adds and modifications.
func (p *Project) onFileChanged(path string) {
	if path == p.config.CompilationDatabasePath() {
		if err := p.reloadCompilationDatabase(); err != nil {
			p.logger.Warn("Failed to reload compilation database", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	id := p.registry.FileID(path)
	if id == 0 {
		return
	}
	if _, isSource := p.sources[id]; isSource || p.deps.Contains(id) {
		p.dirty(id)
	}
}

// SortedWatchList renders the watch table for the status surface.
func (p *Project) SortedWatchList() []string {
	table := p.WatchedPaths()
	dirs := make([]string, 0, len(table))
	for dir := range table {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}
