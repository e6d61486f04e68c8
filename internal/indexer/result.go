package indexer

import (
	"xref/internal/filemap"
	"xref/internal/location"
)

// FixIt is a suggested source edit attached to a diagnostic.
type FixIt struct {
	Line        uint32 `json:"line"`
	Column      uint32 `json:"column"`
	Length      uint32 `json:"length"`
	Replacement string `json:"replacement"`
}

// DiagnosticLevel classifies a diagnostic.
type DiagnosticLevel string

const (
	DiagnosticNote    DiagnosticLevel = "note"
	DiagnosticWarning DiagnosticLevel = "warning"
	DiagnosticError   DiagnosticLevel = "error"
)

// Diagnostic is one compiler message for a file.
type Diagnostic struct {
	Level    DiagnosticLevel   `json:"level"`
	Location location.Location `json:"location"`
	Message  string            `json:"message"`
}

// Result is what a backend produces for one finished job.
type Result struct {
	SourceKey uint64

	// Visited is every file id the job touched while walking the translation
	// unit and its transitive includes.
	Visited map[location.FileID]struct{}

	// Tables holds the symbol/name/target/usr maps for each visited file the
	// job owned. The registry writes them to disk during the merge.
	Tables map[location.FileID]*filemap.FileTables

	// Includes reports, for each visited file, its direct include list. The
	// merge replaces each includer's edge set with exactly this.
	Includes map[location.FileID][]location.FileID

	FixIts      map[location.FileID][]FixIt
	Diagnostics map[location.FileID][]Diagnostic
}

// NewResult creates an empty result for a source key.
func NewResult(sourceKey uint64) *Result {
	return &Result{
		SourceKey:   sourceKey,
		Visited:     make(map[location.FileID]struct{}),
		Tables:      make(map[location.FileID]*filemap.FileTables),
		Includes:    make(map[location.FileID][]location.FileID),
		FixIts:      make(map[location.FileID][]FixIt),
		Diagnostics: make(map[location.FileID][]Diagnostic),
	}
}
