// Package symbol defines the indexed symbol records served by queries.
package symbol

import (
	"sort"
	"strings"

	"xref/internal/location"
)

// Kind classifies a symbol.
type Kind string

const (
	KindNamespace   Kind = "namespace"
	KindClass       Kind = "class"
	KindStruct      Kind = "struct"
	KindEnum        Kind = "enum"
	KindEnumerator  Kind = "enumerator"
	KindTypedef     Kind = "typedef"
	KindFunction    Kind = "function"
	KindMethod      Kind = "method"
	KindConstructor Kind = "constructor"
	KindDestructor  Kind = "destructor"
	KindField       Kind = "field"
	KindVariable    Kind = "variable"
	KindParameter   Kind = "parameter"
	KindMacro       Kind = "macro"
	KindInclude     Kind = "include"
	KindReference   Kind = "reference"
	KindUnknown     Kind = ""
)

// kindPriority orders kinds for sorted query output. Lower sorts first.
var kindPriority = map[Kind]int{
	KindClass:       0,
	KindStruct:      0,
	KindEnum:        1,
	KindTypedef:     1,
	KindNamespace:   2,
	KindFunction:    3,
	KindMethod:      3,
	KindConstructor: 3,
	KindDestructor:  3,
	KindEnumerator:  4,
	KindField:       5,
	KindVariable:    5,
	KindMacro:       6,
	KindParameter:   7,
	KindInclude:     8,
	KindReference:   9,
}

// Priority returns the sort priority of k. Unknown kinds sort last.
func (k Kind) Priority() int {
	if p, ok := kindPriority[k]; ok {
		return p
	}
	return 10
}

// IsFunctionLike reports whether k is a callable definition kind.
func (k Kind) IsFunctionLike() bool {
	switch k {
	case KindFunction, KindMethod, KindConstructor, KindDestructor:
		return true
	}
	return false
}

// IsContainer reports whether k can enclose other symbols.
func (k Kind) IsContainer() bool {
	switch k {
	case KindNamespace, KindClass, KindStruct, KindEnum, KindFunction,
		KindMethod, KindConstructor, KindDestructor:
		return true
	}
	return false
}

// IsClassLike reports whether k participates in class hierarchies.
func (k Kind) IsClassLike() bool {
	return k == KindClass || k == KindStruct
}

// Flags annotate a symbol record.
type Flags uint16

const (
	// FlagDefinition marks the defining occurrence.
	FlagDefinition Flags = 1 << iota
	// FlagVirtual marks virtual methods.
	FlagVirtual
	// FlagPureVirtual marks pure virtual methods.
	FlagPureVirtual
	// FlagReference marks a use rather than a declaration.
	FlagReference
	// FlagAuto marks auto-typed declarations.
	FlagAuto
	// FlagStatic marks static symbols.
	FlagStatic
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Symbol is one indexed symbol occurrence, keyed by its location.
type Symbol struct {
	Location location.Location `json:"location"`
	Length   uint32            `json:"length"`
	Kind     Kind              `json:"kind"`
	Name     string            `json:"name"` // qualified
	USR      string            `json:"usr"`
	Flags    Flags             `json:"flags"`
	Parent   location.Location `json:"parent,omitempty"`
	// BaseUSRs lists base classes for class-like symbols, and overridden
	// methods for virtual methods.
	BaseUSRs []string `json:"baseUsrs,omitempty"`
}

// IsValid reports whether the record refers to a real occurrence.
func (s Symbol) IsValid() bool {
	return s.Location.IsValid()
}

// IsDefinition reports whether this is the defining occurrence.
func (s Symbol) IsDefinition() bool {
	return s.Flags.Has(FlagDefinition)
}

// IsReference reports whether this is a use rather than a declaration.
func (s Symbol) IsReference() bool {
	return s.Flags.Has(FlagReference) || s.Kind == KindReference
}

// Contains reports whether loc falls inside the symbol's source range.
// The range spans Length columns starting at the symbol's location.
func (s Symbol) Contains(loc location.Location) bool {
	if s.Location.FileID != loc.FileID || s.Location.Line != loc.Line {
		return false
	}
	return loc.Column >= s.Location.Column && loc.Column < s.Location.Column+s.Length
}

// BaseName returns the unqualified symbol name.
func (s Symbol) BaseName() string {
	if i := strings.LastIndex(s.Name, "::"); i >= 0 {
		return s.Name[i+2:]
	}
	return s.Name
}

// TargetRef is one entry of a per-file targets map: a location at which the
// keyed USR is declared, defined or referenced.
type TargetRef struct {
	Location location.Location `json:"location"`
	Kind     Kind              `json:"kind"`
	Flags    Flags             `json:"flags"`
}

// SortFlags adjust Sort's ordering.
type SortFlags uint8

const (
	// SortReverse reverses the final order.
	SortReverse SortFlags = 1 << iota
	// SortStripPath orders by base name instead of the full path.
	SortStripPath
)

// SortedSymbol pairs a symbol with its resolved path for ordering.
type SortedSymbol struct {
	Symbol Symbol
	Path   string
}

// Sort orders symbols by (kind priority, definition-first, path, line, column).
func Sort(set []SortedSymbol, flags SortFlags) {
	sort.SliceStable(set, func(i, j int) bool {
		a, b := set[i], set[j]
		if pa, pb := a.Symbol.Kind.Priority(), b.Symbol.Kind.Priority(); pa != pb {
			return pa < pb
		}
		if da, db := a.Symbol.IsDefinition(), b.Symbol.IsDefinition(); da != db {
			return da
		}
		pathA, pathB := a.Path, b.Path
		if flags&SortStripPath != 0 {
			pathA = baseName(pathA)
			pathB = baseName(pathB)
		}
		if pathA != pathB {
			return pathA < pathB
		}
		return a.Symbol.Location.Compare(b.Symbol.Location) < 0
	})
	if flags&SortReverse != 0 {
		for i, j := 0, len(set)-1; i < j; i, j = i+1, j-1 {
			set[i], set[j] = set[j], set[i]
		}
	}
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// BestTarget picks the preferred target from a candidate set: a definition
// with the wanted USR beats a declaration with it, which beats a bare name
// match. Ties break on location order for determinism.
func BestTarget(candidates []Symbol, usr, name string) (Symbol, bool) {
	best := Symbol{}
	bestRank := -1
	for _, c := range candidates {
		rank := targetRank(c, usr, name)
		if rank < 0 {
			continue
		}
		if rank > bestRank || (rank == bestRank && c.Location.Compare(best.Location) < 0) {
			best = c
			bestRank = rank
		}
	}
	return best, bestRank >= 0
}

func targetRank(c Symbol, usr, name string) int {
	switch {
	case usr != "" && c.USR == usr && c.IsDefinition():
		return 3
	case usr != "" && c.USR == usr:
		return 2
	case name != "" && c.Kind.IsFunctionLike() && c.Name == name:
		return 1
	}
	return -1
}
