package project

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"xref/internal/depgraph"
	"xref/internal/indexer"
	"xref/internal/location"
)

// reindexWaiter tracks a synchronous Reindex call until its last job ends.
type reindexWaiter struct {
	keys map[uint64]struct{}
	ch   chan struct{}
}

// Index submits a job. An active job with the same source key is superseded:
// it is cancelled and its eventual result discarded.
func (p *Project) Index(job *indexer.Job) {
	p.call(func() {
		p.index(job)
	})
}

// index runs on the loop.
func (p *Project) index(job *indexer.Job) {
	key := job.SourceKey()

	p.mu.Lock()
	if old, ok := p.activeJobs[key]; ok {
		old.Cancel()
	}
	p.activeJobs[key] = job
	p.mu.Unlock()

	if !p.pool.Submit(job) {
		p.logger.Warn("Indexer pool rejected job", map[string]interface{}{
			"source": job.Source.Path,
		})
		p.mu.Lock()
		if p.activeJobs[key] == job {
			delete(p.activeJobs, key)
		}
		p.mu.Unlock()
		return
	}

	p.logger.Debug("Index job submitted", map[string]interface{}{
		"jobId":  job.ID,
		"source": job.Source.Path,
		"reason": string(job.Reason),
	})
}

// Dirty marks a file as changed and arms the debounce timer. Safe to call
// from watcher callbacks and external surfaces.
func (p *Project) Dirty(id location.FileID) {
	p.post(func() {
		p.dirty(id)
	})
}

// dirty runs on the loop.
func (p *Project) dirty(id location.FileID) {
	if id == 0 {
		return
	}
	p.pendingDirty[id] = struct{}{}
	p.armDirtyTimer()
}

func (p *Project) armDirtyTimer() {
	p.dirtyDebounce.Trigger(func() {
		p.post(p.flushDirty)
	})
}

// flushDirty expands the pending set to every transitive dependent, filters
// files that cannot be indexed, starts jobs and clears the set. Dirty events
// arriving after this point re-arm the timer, so no wake-up is lost.
func (p *Project) flushDirty() {
	if len(p.pendingDirty) == 0 {
		return
	}

	dirty := make(map[location.FileID]struct{}, len(p.pendingDirty))
	for id := range p.pendingDirty {
		dirty[id] = struct{}{}
		for dep := range p.deps.Dependencies(id, depgraph.DependsOnArg) {
			dirty[dep] = struct{}{}
		}
	}
	p.pendingDirty = make(map[location.FileID]struct{})

	started := p.startDirtyJobs(dirty, indexer.ReasonDirty)
	p.logger.Debug("Dirty set flushed", map[string]interface{}{
		"dirty":   len(dirty),
		"started": started,
	})
}

// startDirtyJobs issues one job per (file, source) for every indexable file
// in the set. Suspended files and files without a known source are skipped.
func (p *Project) startDirtyJobs(dirty map[location.FileID]struct{}, reason indexer.Reason) int {
	started := 0
	for id := range dirty {
		if _, ok := p.suspended[id]; ok {
			continue
		}
		srcs, ok := p.sources[id]
		if !ok {
			continue
		}
		for _, src := range srcs {
			p.index(indexer.NewJob(src, reason))
			started++
		}
	}
	return started
}

// Reindex synchronously starts jobs for every source whose path matches.
// An empty match selects all sources. The returned channel closes when the
// last started job finishes; it is nil when no job started.
func (p *Project) Reindex(match string) (int, <-chan struct{}) {
	var count int
	var wait chan struct{}
	p.call(func() {
		dirty := make(map[location.FileID]struct{})
		for id, srcs := range p.sources {
			if len(srcs) == 0 || !matchPath(match, srcs[0].Path) {
				continue
			}
			dirty[id] = struct{}{}
			for dep := range p.deps.Dependencies(id, depgraph.DependsOnArg) {
				dirty[dep] = struct{}{}
			}
		}

		keys := make(map[uint64]struct{})
		for id := range dirty {
			if _, ok := p.suspended[id]; ok {
				continue
			}
			for _, src := range p.sources[id] {
				keys[src.Key()] = struct{}{}
			}
		}
		if len(keys) == 0 {
			return
		}

		wait = make(chan struct{})
		p.waiters = append(p.waiters, &reindexWaiter{keys: keys, ch: wait})
		count = p.startDirtyJobs(dirty, indexer.ReasonReindex)
	})
	return count, wait
}

// Remove deletes every source whose path matches, along with its on-disk
// symbol maps, graph node and pending dirty entry. Returns the number of
// sources removed.
func (p *Project) Remove(match string) int {
	count := 0
	p.call(func() {
		var ids []location.FileID
		for id, srcs := range p.sources {
			if len(srcs) > 0 && matchPath(match, srcs[0].Path) {
				ids = append(ids, id)
			}
		}
		for _, id := range ids {
			count += p.removeSource(id)
		}
	})
	return count
}

// removeSource runs on the loop.
func (p *Project) removeSource(id location.FileID) int {
	srcs, ok := p.sources[id]
	if !ok {
		return 0
	}

	p.mu.Lock()
	for _, src := range srcs {
		if job, active := p.activeJobs[src.Key()]; active {
			job.Cancel()
			delete(p.activeJobs, src.Key())
		}
	}
	p.mu.Unlock()

	delete(p.sources, id)
	delete(p.pendingDirty, id)
	delete(p.fixIts, id)
	delete(p.diagnostics, id)
	p.deps.Remove(id)

	if err := p.maps.Remove(id); err != nil {
		p.logger.Warn("Failed to remove symbol maps", map[string]interface{}{
			"fileId": uint32(id),
			"error":  err.Error(),
		})
	}

	p.logger.Info("Source removed", map[string]interface{}{
		"path": p.registry.Path(id),
	})
	return len(srcs)
}

// onJobCompletion runs on the loop for every finished, failed or aborted job.
func (p *Project) onJobCompletion(c indexer.Completion) {
	job := c.Job
	key := job.SourceKey()

	p.mu.Lock()
	current, registered := p.activeJobs[key]
	p.mu.Unlock()

	// A superseded job's result is discarded; only its claims are returned.
	if !registered || current != job {
		p.releaseJobFiles(job)
		p.notifyWaiters(key)
		return
	}

	if c.Err != nil || c.Result == nil {
		p.mu.Lock()
		delete(p.activeJobs, key)
		p.mu.Unlock()
		p.releaseJobFiles(job)
		p.notifyWaiters(key)
		p.maybeSave()
		return
	}

	p.applyResult(job, c.Result)
	p.notifyWaiters(key)

	// Dirty events that raced with the job survive in pendingDirty; make
	// sure the timer is armed so they are not dropped.
	if len(p.pendingDirty) > 0 {
		p.armDirtyTimer()
	} else {
		p.maybeSave()
	}
}

// applyResult merges a job's result into project state.
func (p *Project) applyResult(job *indexer.Job, result *indexer.Result) {
	// Every visited file gets a graph node, then each includer's edge set is
	// replaced with exactly the reported includes.
	for id := range result.Visited {
		p.deps.InsertOrGet(id)
	}
	for includer, includees := range result.Includes {
		p.deps.SetIncludes(includer, includees)
	}

	for id, tables := range result.Tables {
		if err := p.maps.WriteFileMaps(id, tables); err != nil {
			p.logger.Error("Failed to write symbol maps", map[string]interface{}{
				"fileId": uint32(id),
				"error":  err.Error(),
			})
			p.pendingDirty[id] = struct{}{}
		}
	}

	for id, fixes := range result.FixIts {
		if len(fixes) == 0 {
			delete(p.fixIts, id)
		} else {
			p.fixIts[id] = fixes
		}
	}

	// Diagnostics merge is diff-based: files reported by the job replace
	// their entries, visited files the job stayed silent about are cleared,
	// untouched files keep what they had.
	for id := range result.Visited {
		if diags, ok := result.Diagnostics[id]; ok && len(diags) > 0 {
			p.diagnostics[id] = diags
		} else {
			delete(p.diagnostics, id)
		}
	}

	p.mu.Lock()
	delete(p.activeJobs, job.SourceKey())
	p.mu.Unlock()
	p.releaseJobFiles(job)

	// Update the indexed mtime stamp for the job's source.
	srcs := p.sources[job.Source.FileID]
	for i := range srcs {
		if srcs[i].Key() == job.SourceKey() {
			srcs[i].ModTime = job.Source.ModTime
		}
	}

	p.logger.Info("Index result merged", map[string]interface{}{
		"source":  job.Source.Path,
		"visited": len(result.Visited),
	})
}

func (p *Project) releaseJobFiles(job *indexer.Job) {
	p.mu.Lock()
	ids := make([]location.FileID, 0, len(job.Visited))
	for id := range job.Visited {
		ids = append(ids, id)
	}
	for _, id := range ids {
		delete(p.visitedFiles, id)
	}
	p.mu.Unlock()
}

func (p *Project) notifyWaiters(key uint64) {
	// A superseded job's key is still active under its replacement; the
	// waiter is satisfied only when the slot empties.
	p.mu.Lock()
	_, stillActive := p.activeJobs[key]
	p.mu.Unlock()
	if stillActive {
		return
	}

	remaining := p.waiters[:0]
	for _, w := range p.waiters {
		delete(w.keys, key)
		if len(w.keys) == 0 {
			close(w.ch)
			continue
		}
		remaining = append(remaining, w)
	}
	p.waiters = remaining
}

// maybeSave persists state when the project goes quiet: no active jobs and no
// armed dirty timer. Saving mid-index would let persisted dependencies
// diverge from the on-disk symbol maps.
func (p *Project) maybeSave() {
	p.mu.Lock()
	active := len(p.activeJobs)
	p.mu.Unlock()

	if active > 0 || p.dirtyDebounce.Armed() {
		return
	}
	if err := p.save(); err != nil {
		p.logger.Warn("Periodic save failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// loadFailed marks a file whose on-disk map could not be opened, scheduling a
// re-index. Runs on the loop.
func (p *Project) loadFailed(id location.FileID) {
	p.logger.Warn("File map load failed, scheduling re-index", map[string]interface{}{
		"fileId": uint32(id),
		"path":   p.registry.Path(id),
	})
	p.dirty(id)
}

// matchPath reports whether path matches the pattern: empty matches all,
// glob patterns glob-match, anything else is a substring match.
func matchPath(match, path string) bool {
	if match == "" {
		return true
	}
	if strings.ContainsAny(match, "*?[{") {
		ok, err := doublestar.Match(match, path)
		return err == nil && ok
	}
	return strings.Contains(path, match)
}
