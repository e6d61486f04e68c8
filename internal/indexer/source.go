// Package indexer defines the unit of indexing work: compilable sources, the
// jobs that re-parse them, the results a backend produces, and the worker
// pool that runs backends in parallel.
package indexer

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"xref/internal/location"
)

// Source is one compilable translation unit: a path plus the arguments and
// compiler it is built with. The same file may appear with several distinct
// argument sets; the source key disambiguates them.
type Source struct {
	FileID   location.FileID `json:"fileId"`
	Path     string          `json:"path"`
	Args     []string        `json:"args"`
	Compiler string          `json:"compiler"`
	// ModTime is the file's unix mtime when it was last indexed. A mismatch
	// against the on-disk stamp at startup marks the source dirty.
	ModTime int64 `json:"modTime"`
}

// Key returns the 64-bit source key, stable over identical
// (path, args, compiler) triples.
func (s Source) Key() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(s.Path)
	_, _ = h.Write([]byte{0})
	for _, arg := range s.Args {
		_, _ = h.WriteString(arg)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.WriteString(s.Compiler)
	return h.Sum64()
}

// String renders the source as a compile line for logs.
func (s Source) String() string {
	parts := make([]string, 0, len(s.Args)+2)
	parts = append(parts, s.Compiler)
	parts = append(parts, s.Args...)
	parts = append(parts, s.Path)
	return strings.Join(parts, " ")
}
