package project

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"xref/internal/depgraph"
	"xref/internal/filemap"
	"xref/internal/location"
	"xref/internal/symbol"
)

// MatchType classifies how a symbol name matched a query pattern.
type MatchType int

const (
	MatchExact MatchType = iota
	MatchStartsWith
	MatchWildcard
)

func (m MatchType) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchStartsWith:
		return "starts-with"
	case MatchWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// QueryFlags adjust FindSymbols behavior.
type QueryFlags uint8

const (
	// QueryStartsWith also reports names the pattern is a prefix of.
	QueryStartsWith QueryFlags = 1 << iota
)

// SymbolNameCallback receives FindSymbols results.
type SymbolNameCallback func(match MatchType, name string, locations []location.Location)

// FindSymbol resolves the symbol at loc: an exact match, or the closest
// preceding symbol whose source range covers loc. The returned index is the
// symbol's position within its file's symbol list.
func (p *Project) FindSymbol(loc location.Location) (symbol.Symbol, int, bool) {
	var sym symbol.Symbol
	var idx int
	var ok bool
	p.call(func() {
		scope := p.beginScope()
		defer scope.Release()
		sym, idx, ok = p.findSymbol(scope, loc)
	})
	return sym, idx, ok
}

func (p *Project) findSymbol(scope *QueryScope, loc location.Location) (symbol.Symbol, int, bool) {
	m, err := scope.Open(filemap.Symbols, loc.FileID)
	if err != nil {
		return symbol.Symbol{}, 0, false
	}

	key := loc.EncodeKey()
	i := m.LowerBound(key)
	if i < m.Len() {
		if entry := m.At(i); string(entry.Key) == string(key) {
			sym, err := filemap.DecodeSymbol(entry.Value)
			if err == nil {
				return sym, i, true
			}
		}
	}
	// No exact hit: the largest key before loc may cover it.
	if i > 0 {
		sym, err := filemap.DecodeSymbol(m.At(i - 1).Value)
		if err == nil && sym.Contains(loc) {
			return sym, i - 1, true
		}
	}
	return symbol.Symbol{}, 0, false
}

// symbolAt fetches the exact symbol record at loc, if any.
func (p *Project) symbolAt(scope *QueryScope, loc location.Location) (symbol.Symbol, bool) {
	m, err := scope.Open(filemap.Symbols, loc.FileID)
	if err != nil {
		return symbol.Symbol{}, false
	}
	value, ok := m.Get(loc.EncodeKey())
	if !ok {
		return symbol.Symbol{}, false
	}
	sym, err := filemap.DecodeSymbol(value)
	if err != nil {
		return symbol.Symbol{}, false
	}
	return sym, true
}

// candidateFiles returns the transitive closure of id in the given direction
// plus id itself, ordered.
func (p *Project) candidateFiles(id location.FileID, mode depgraph.Mode) []location.FileID {
	set := p.deps.Dependencies(id, mode)
	set[id] = struct{}{}
	files := make([]location.FileID, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
	return files
}

// FindTargets returns the declarations and definitions the symbol resolves
// to, searching the symbol's file and everything that depends on it.
func (p *Project) FindTargets(sym symbol.Symbol) []symbol.Symbol {
	var out []symbol.Symbol
	p.call(func() {
		scope := p.beginScope()
		defer scope.Release()
		out = p.findTargets(scope, sym)
	})
	return out
}

func (p *Project) findTargets(scope *QueryScope, sym symbol.Symbol) []symbol.Symbol {
	if sym.USR == "" {
		return nil
	}
	var defs, decls []symbol.Symbol
	for _, file := range p.candidateFiles(sym.Location.FileID, depgraph.DependsOnArg) {
		m, err := scope.Open(filemap.Targets, file)
		if err != nil {
			continue
		}
		value, ok := m.Get([]byte(sym.USR))
		if !ok {
			continue
		}
		refs, err := filemap.DecodeTargetRefs(value)
		if err != nil {
			continue
		}
		for _, ref := range refs {
			if ref.Flags.Has(symbol.FlagReference) {
				continue
			}
			target, ok := p.symbolAt(scope, ref.Location)
			if !ok {
				continue
			}
			if target.IsDefinition() {
				defs = append(defs, target)
			} else {
				decls = append(decls, target)
			}
		}
	}
	return append(defs, decls...)
}

// BestTarget resolves the single preferred target of the symbol.
func (p *Project) BestTarget(sym symbol.Symbol) (symbol.Symbol, bool) {
	var best symbol.Symbol
	var ok bool
	p.call(func() {
		scope := p.beginScope()
		defer scope.Release()
		candidates := p.findTargets(scope, sym)
		best, ok = symbol.BestTarget(candidates, sym.USR, sym.Name)
	})
	return best, ok
}

// FindAllReferences returns every use of the symbol across the files that
// depend on its defining file.
func (p *Project) FindAllReferences(sym symbol.Symbol) []symbol.Symbol {
	var out []symbol.Symbol
	p.call(func() {
		scope := p.beginScope()
		defer scope.Release()
		out = p.findReferences(scope, sym, nil)
	})
	return out
}

// FindCallers returns the references whose enclosing symbol is a function,
// i.e. the call sites of sym.
func (p *Project) FindCallers(sym symbol.Symbol) []symbol.Symbol {
	var out []symbol.Symbol
	p.call(func() {
		scope := p.beginScope()
		defer scope.Release()
		out = p.findReferences(scope, sym, func(ref symbol.Symbol) bool {
			enclosing, ok := p.enclosingFunction(scope, ref.Location)
			return ok && enclosing.Kind.IsFunctionLike()
		})
	})
	return out
}

func (p *Project) findReferences(scope *QueryScope, sym symbol.Symbol, filter func(symbol.Symbol) bool) []symbol.Symbol {
	if sym.USR == "" {
		return nil
	}
	var out []symbol.Symbol
	for _, file := range p.candidateFiles(sym.Location.FileID, depgraph.DependsOnArg) {
		m, err := scope.Open(filemap.Targets, file)
		if err != nil {
			continue
		}
		value, ok := m.Get([]byte(sym.USR))
		if !ok {
			continue
		}
		refs, err := filemap.DecodeTargetRefs(value)
		if err != nil {
			continue
		}
		for _, ref := range refs {
			if !ref.Flags.Has(symbol.FlagReference) {
				continue
			}
			record, ok := p.symbolAt(scope, ref.Location)
			if !ok {
				continue
			}
			// USR confirmation: a stale map may key unrelated symbols
			// under the same USR.
			if record.USR != "" && record.USR != sym.USR {
				continue
			}
			if filter != nil && !filter(record) {
				continue
			}
			out = append(out, record)
		}
	}
	return out
}

// enclosingFunction finds the nearest function-like definition before loc
// in the same file. Symbol records carry column ranges only, so this is
// the closest preceding definition rather than a strict range containment.
func (p *Project) enclosingFunction(scope *QueryScope, loc location.Location) (symbol.Symbol, bool) {
	m, err := scope.Open(filemap.Symbols, loc.FileID)
	if err != nil {
		return symbol.Symbol{}, false
	}
	for i := m.LowerBound(loc.EncodeKey()); i > 0; i-- {
		sym, err := filemap.DecodeSymbol(m.At(i - 1).Value)
		if err != nil {
			continue
		}
		if sym.Kind.IsFunctionLike() && sym.IsDefinition() {
			return sym, true
		}
	}
	return symbol.Symbol{}, false
}

// FindVirtuals returns the overriders and overridden methods of a virtual
// method, walking the class hierarchy recorded in the symbol maps.
func (p *Project) FindVirtuals(sym symbol.Symbol) []symbol.Symbol {
	var out []symbol.Symbol
	p.call(func() {
		if !sym.Flags.Has(symbol.FlagVirtual) {
			return
		}
		scope := p.beginScope()
		defer scope.Release()

		// Overridden: methods this one overrides, named by its base USRs.
		for _, base := range sym.BaseUSRs {
			out = append(out, p.findByUsr(scope, base, sym.Location.FileID, depgraph.ArgDependsOn, location.Location{})...)
		}

		// Overriders: methods in dependent files that list sym as a base.
		for _, file := range p.candidateFiles(sym.Location.FileID, depgraph.DependsOnArg) {
			out = append(out, p.scanSymbols(scope, file, func(s symbol.Symbol) bool {
				return s.Kind.IsFunctionLike() && hasBase(s, sym.USR)
			})...)
		}
	})
	return out
}

// FindSubclasses returns every class transitively deriving from sym's class.
func (p *Project) FindSubclasses(sym symbol.Symbol) []symbol.Symbol {
	var out []symbol.Symbol
	p.call(func() {
		if !sym.Kind.IsClassLike() {
			return
		}
		scope := p.beginScope()
		defer scope.Release()

		files := p.candidateFiles(sym.Location.FileID, depgraph.DependsOnArg)
		pending := []string{sym.USR}
		seen := map[string]struct{}{sym.USR: {}}

		for len(pending) > 0 {
			usr := pending[0]
			pending = pending[1:]
			for _, file := range files {
				for _, sub := range p.scanSymbols(scope, file, func(s symbol.Symbol) bool {
					return s.Kind.IsClassLike() && hasBase(s, usr)
				}) {
					if _, ok := seen[sub.USR]; ok {
						continue
					}
					seen[sub.USR] = struct{}{}
					pending = append(pending, sub.USR)
					out = append(out, sub)
				}
			}
		}
	})
	return out
}

func hasBase(s symbol.Symbol, usr string) bool {
	for _, base := range s.BaseUSRs {
		if base == usr {
			return true
		}
	}
	return false
}

// scanSymbols walks a file's symbols map collecting records that pass keep.
func (p *Project) scanSymbols(scope *QueryScope, file location.FileID, keep func(symbol.Symbol) bool) []symbol.Symbol {
	m, err := scope.Open(filemap.Symbols, file)
	if err != nil {
		return nil
	}
	var out []symbol.Symbol
	m.Range(func(e filemap.Entry) bool {
		sym, err := filemap.DecodeSymbol(e.Value)
		if err == nil && keep(sym) {
			out = append(out, sym)
		}
		return true
	})
	return out
}

// FindByUsr returns all symbols with the given USR in the files selected by
// walking the dependency graph from fileID in the given direction, optionally
// excluding one location.
func (p *Project) FindByUsr(usr string, fileID location.FileID, mode depgraph.Mode, filteredLoc location.Location) []symbol.Symbol {
	var out []symbol.Symbol
	p.call(func() {
		scope := p.beginScope()
		defer scope.Release()
		out = p.findByUsr(scope, usr, fileID, mode, filteredLoc)
	})
	return out
}

func (p *Project) findByUsr(scope *QueryScope, usr string, fileID location.FileID, mode depgraph.Mode, filteredLoc location.Location) []symbol.Symbol {
	if usr == "" {
		return nil
	}
	var out []symbol.Symbol
	for _, file := range p.candidateFiles(fileID, mode) {
		m, err := scope.Open(filemap.Usrs, file)
		if err != nil {
			continue
		}
		value, ok := m.Get([]byte(usr))
		if !ok {
			continue
		}
		locs, err := filemap.DecodeLocations(value)
		if err != nil {
			continue
		}
		for _, loc := range locs {
			if loc == filteredLoc {
				continue
			}
			if sym, ok := p.symbolAt(scope, loc); ok {
				out = append(out, sym)
			}
		}
	}
	return out
}

// FindSymbols iterates symbol names matching the pattern. Patterns containing
// glob metacharacters match as wildcards; otherwise cb receives the exact hit
// and, when QueryStartsWith is set, every name the pattern prefixes. A
// non-zero fileFilter restricts the search to that file's map.
func (p *Project) FindSymbols(pattern string, cb SymbolNameCallback, flags QueryFlags, fileFilter location.FileID) {
	p.call(func() {
		scope := p.beginScope()
		defer scope.Release()

		files := p.nameSearchFiles(fileFilter)
		wildcard := strings.ContainsAny(pattern, "*?")

		for _, file := range files {
			m, err := scope.Open(filemap.SymbolNames, file)
			if err != nil {
				continue
			}
			switch {
			case wildcard:
				m.Range(func(e filemap.Entry) bool {
					name := string(e.Key)
					if ok, err := doublestar.Match(pattern, name); err == nil && ok {
						if locs, err := filemap.DecodeLocations(e.Value); err == nil {
							cb(MatchWildcard, name, locs)
						}
					}
					return true
				})
			default:
				if value, ok := m.Get([]byte(pattern)); ok {
					if locs, err := filemap.DecodeLocations(value); err == nil {
						cb(MatchExact, pattern, locs)
					}
				}
				if flags&QueryStartsWith != 0 {
					m.PrefixRange([]byte(pattern), func(e filemap.Entry) bool {
						name := string(e.Key)
						if name == pattern {
							return true
						}
						if locs, err := filemap.DecodeLocations(e.Value); err == nil {
							cb(MatchStartsWith, name, locs)
						}
						return true
					})
				}
			}
		}
	})
}

// nameSearchFiles resolves which files FindSymbols visits.
func (p *Project) nameSearchFiles(fileFilter location.FileID) []location.FileID {
	if fileFilter != 0 {
		return []location.FileID{fileFilter}
	}
	set := make(map[location.FileID]struct{})
	for id := range p.sources {
		set[id] = struct{}{}
	}
	for _, id := range p.deps.Files() {
		set[id] = struct{}{}
	}
	files := make([]location.FileID, 0, len(set))
	for id := range set {
		files = append(files, id)
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
	return files
}

// SortSymbols orders symbols for presentation, resolving each symbol's path
// through the registry.
func (p *Project) SortSymbols(syms []symbol.Symbol, flags symbol.SortFlags) []symbol.SortedSymbol {
	sorted := make([]symbol.SortedSymbol, 0, len(syms))
	for _, s := range syms {
		sorted = append(sorted, symbol.SortedSymbol{
			Symbol: s,
			Path:   p.registry.Path(s.Location.FileID),
		})
	}
	symbol.Sort(sorted, flags)
	return sorted
}

// Prepare warms the file maps of a file ahead of a query burst. Returns the
// number of maps that opened cleanly.
func (p *Project) Prepare(fileID location.FileID) int {
	opened := 0
	p.call(func() {
		scope := p.beginScope()
		defer scope.Release()
		for _, kind := range filemap.AllKinds() {
			if _, err := scope.Open(kind, fileID); err == nil {
				opened++
			}
		}
	})
	return opened
}
