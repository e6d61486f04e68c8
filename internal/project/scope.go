package project

import (
	"container/list"

	"xref/internal/filemap"
	"xref/internal/location"
)

// scopeKey identifies one opened map inside a scope.
type scopeKey struct {
	kind filemap.Kind
	id   location.FileID
}

// QueryScope caches the file maps a single query touches, bounded by an LRU.
// File maps are memory-resident once opened; without the bound a wide query
// (all callers of a popular symbol) would page in every map in the project.
//
// A scope belongs to one query handler invocation and is not thread-safe.
// Every query entry point opens a scope and releases it on all exit paths.
type QueryScope struct {
	store      *filemap.Store
	max        int
	maps       map[scopeKey]*filemap.Map
	lru        *list.List // of scopeKey, front = oldest
	elems      map[scopeKey]*list.Element
	opened     int // total opens, monotonic
	onLoadFail func(location.FileID)
}

// newQueryScope creates a scope with the given residency bound.
func newQueryScope(store *filemap.Store, max int, onLoadFail func(location.FileID)) *QueryScope {
	if max <= 0 {
		max = 64
	}
	return &QueryScope{
		store:      store,
		max:        max,
		maps:       make(map[scopeKey]*filemap.Map),
		lru:        list.New(),
		elems:      make(map[scopeKey]*list.Element),
		onLoadFail: onLoadFail,
	}
}

// Open returns the map for (kind, id), loading it on first use. A re-open
// refreshes the entry's LRU position. A failed load leaves the scope
// untouched and reports the file for re-index.
func (s *QueryScope) Open(kind filemap.Kind, id location.FileID) (*filemap.Map, error) {
	key := scopeKey{kind: kind, id: id}
	if el, ok := s.elems[key]; ok {
		s.lru.MoveToBack(el)
		return s.maps[key], nil
	}

	m, err := s.store.Open(id, kind)
	if err != nil {
		if s.onLoadFail != nil {
			s.onLoadFail(id)
		}
		return nil, err
	}

	s.maps[key] = m
	s.elems[key] = s.lru.PushBack(key)
	s.opened++

	if s.lru.Len() > s.max {
		oldest := s.lru.Front()
		s.lru.Remove(oldest)
		k := oldest.Value.(scopeKey)
		delete(s.maps, k)
		delete(s.elems, k)
	}
	return m, nil
}

// OpenCount returns the number of currently resident maps.
func (s *QueryScope) OpenCount() int {
	return s.lru.Len()
}

// TotalOpened returns how many loads the scope performed.
func (s *QueryScope) TotalOpened() int {
	return s.opened
}

// Contains reports whether (kind, id) is resident.
func (s *QueryScope) Contains(kind filemap.Kind, id location.FileID) bool {
	_, ok := s.elems[scopeKey{kind: kind, id: id}]
	return ok
}

// Release drops every resident map, leaving the scope empty.
func (s *QueryScope) Release() {
	s.maps = make(map[scopeKey]*filemap.Map)
	s.elems = make(map[scopeKey]*list.Element)
	s.lru.Init()
}

// MemoryUsage sums the resident bytes of all open maps.
func (s *QueryScope) MemoryUsage() int {
	total := 0
	for _, m := range s.maps {
		total += m.MemoryUsage()
	}
	return total
}

// beginScope opens a scope wired to the project's load-failure handling.
// Runs on the loop; loadFailed schedules the broken file for re-index.
func (p *Project) beginScope() *QueryScope {
	return newQueryScope(p.maps, p.config.Query.MaxOpenFileMaps, p.loadFailed)
}
