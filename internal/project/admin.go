package project

import (
	"sort"

	"xref/internal/filemap"
	"xref/internal/indexer"
	"xref/internal/location"
)

// ToggleSuspendFile flips automatic indexing for a file and returns the new
// suspended state.
func (p *Project) ToggleSuspendFile(id location.FileID) bool {
	var suspended bool
	p.call(func() {
		if _, ok := p.suspended[id]; ok {
			delete(p.suspended, id)
			suspended = false
		} else {
			p.suspended[id] = struct{}{}
			suspended = true
		}
		p.logger.Info("Suspend toggled", map[string]interface{}{
			"path":      p.registry.Path(id),
			"suspended": suspended,
		})
	})
	return suspended
}

// IsSuspended reports whether automatic indexing is disabled for the file.
func (p *Project) IsSuspended(id location.FileID) bool {
	var suspended bool
	p.call(func() {
		_, suspended = p.suspended[id]
	})
	return suspended
}

// ClearSuspendedFiles re-enables automatic indexing everywhere.
func (p *Project) ClearSuspendedFiles() {
	p.call(func() {
		p.suspended = make(map[location.FileID]struct{})
	})
}

// SuspendedFiles returns the suspended set, ordered.
func (p *Project) SuspendedFiles() []location.FileID {
	var out []location.FileID
	p.call(func() {
		for id := range p.suspended {
			out = append(out, id)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Diagnose returns the diagnostics recorded for a file.
func (p *Project) Diagnose(id location.FileID) []indexer.Diagnostic {
	var out []indexer.Diagnostic
	p.call(func() {
		out = append(out, p.diagnostics[id]...)
	})
	return out
}

// DiagnoseAll returns diagnostics for every file that has any.
func (p *Project) DiagnoseAll() map[location.FileID][]indexer.Diagnostic {
	out := make(map[location.FileID][]indexer.Diagnostic)
	p.call(func() {
		for id, diags := range p.diagnostics {
			out[id] = append([]indexer.Diagnostic(nil), diags...)
		}
	})
	return out
}

// FixIts returns the fix-its recorded for a file.
func (p *Project) FixIts(id location.FileID) []indexer.FixIt {
	var out []indexer.FixIt
	p.call(func() {
		out = append(out, p.fixIts[id]...)
	})
	return out
}

// DumpFileMaps lists every on-disk symbol map with its size, ordered by file
// id then kind.
func (p *Project) DumpFileMaps() ([]filemap.MapInfo, error) {
	var infos []filemap.MapInfo
	var err error
	p.call(func() {
		infos, err = p.maps.List()
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].FileID != infos[j].FileID {
			return infos[i].FileID < infos[j].FileID
		}
		return infos[i].Kind < infos[j].Kind
	})
	return infos, nil
}
