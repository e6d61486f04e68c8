package filemap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"xref/internal/location"
	"xref/internal/symbol"
)

// Kind selects one of the four per-file maps.
type Kind int

const (
	// Symbols maps location keys to symbol records.
	Symbols Kind = iota
	// SymbolNames maps symbol names to location lists.
	SymbolNames
	// Targets maps USRs to target references.
	Targets
	// Usrs maps USRs to the locations declaring them in the file.
	Usrs
)

var kindNames = [...]string{"symbols", "symnames", "targets", "usrs"}

// ShortName returns the on-disk file name for the kind.
func (k Kind) ShortName() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// AllKinds lists every map kind.
func AllKinds() []Kind {
	return []Kind{Symbols, SymbolNames, Targets, Usrs}
}

// Store resolves and opens the per-file maps under a base directory. Pure
// helper; it holds no open state.
type Store struct {
	Base    string
	Options Options
}

// NewStore creates a store rooted at base.
func NewStore(base string, opts Options) *Store {
	return &Store{Base: base, Options: opts}
}

// Path returns "<base>/<fileID>/<kind-short-name>".
func (s *Store) Path(id location.FileID, kind Kind) string {
	return filepath.Join(s.Base, strconv.FormatUint(uint64(id), 10), kind.ShortName())
}

// Open loads the map for (id, kind). Missing or corrupt maps return an error;
// the caller marks the file for re-index.
func (s *Store) Open(id location.FileID, kind Kind) (*Map, error) {
	return Open(s.Path(id, kind), s.Options)
}

// WriteFileMaps writes all four maps for one indexed file atomically enough
// for crash recovery: each map file is temp-written and renamed.
func (s *Store) WriteFileMaps(id location.FileID, tables *FileTables) error {
	dir := filepath.Join(s.Base, strconv.FormatUint(uint64(id), 10))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create map dir for file %d: %w", id, err)
	}

	symbols, err := encodeSymbols(tables.Symbols)
	if err != nil {
		return fmt.Errorf("encode symbols for file %d: %w", id, err)
	}
	names, err := encodeLocationLists(tables.SymbolNames)
	if err != nil {
		return fmt.Errorf("encode symbol names for file %d: %w", id, err)
	}
	targets, err := encodeTargets(tables.Targets)
	if err != nil {
		return fmt.Errorf("encode targets for file %d: %w", id, err)
	}
	usrs, err := encodeLocationLists(tables.Usrs)
	if err != nil {
		return fmt.Errorf("encode usrs for file %d: %w", id, err)
	}

	for kind, entries := range map[Kind][]Entry{
		Symbols:     symbols,
		SymbolNames: names,
		Targets:     targets,
		Usrs:        usrs,
	} {
		if err := Write(s.Path(id, kind), entries); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes every on-disk map of the file.
func (s *Store) Remove(id location.FileID) error {
	dir := filepath.Join(s.Base, strconv.FormatUint(uint64(id), 10))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove maps for file %d: %w", id, err)
	}
	return nil
}

// MapInfo describes one on-disk map file.
type MapInfo struct {
	FileID location.FileID
	Kind   Kind
	Path   string
	Bytes  int64
}

// List enumerates every map file under the base directory.
func (s *Store) List() ([]MapInfo, error) {
	dirs, err := os.ReadDir(s.Base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list file maps: %w", err)
	}

	var infos []MapInfo
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(d.Name(), 10, 32)
		if err != nil {
			continue
		}
		for _, kind := range AllKinds() {
			path := s.Path(location.FileID(id), kind)
			st, err := os.Stat(path)
			if err != nil {
				continue
			}
			infos = append(infos, MapInfo{
				FileID: location.FileID(id),
				Kind:   kind,
				Path:   path,
				Bytes:  st.Size(),
			})
		}
	}
	return infos, nil
}

// FileTables holds the decoded contents of one file's four maps, as produced
// by the indexer backend.
type FileTables struct {
	// Symbols keyed by location.
	Symbols []symbol.Symbol
	// SymbolNames: qualified name -> locations.
	SymbolNames map[string][]location.Location
	// Targets: USR -> occurrences related to it: reference sites in this
	// file (FlagReference) and the resolved declaration/definition
	// locations those references point at, which may lie in other files.
	Targets map[string][]symbol.TargetRef
	// Usrs: USR -> locations declaring it in this file.
	Usrs map[string][]location.Location
}

// NewFileTables creates empty tables.
func NewFileTables() *FileTables {
	return &FileTables{
		SymbolNames: make(map[string][]location.Location),
		Targets:     make(map[string][]symbol.TargetRef),
		Usrs:        make(map[string][]location.Location),
	}
}

func encodeSymbols(syms []symbol.Symbol) ([]Entry, error) {
	entries := make([]Entry, 0, len(syms))
	for _, s := range syms {
		value, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: s.Location.EncodeKey(), Value: value})
	}
	return entries, nil
}

func encodeTargets(targets map[string][]symbol.TargetRef) ([]Entry, error) {
	entries := make([]Entry, 0, len(targets))
	for usr, refs := range targets {
		value, err := json.Marshal(refs)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: []byte(usr), Value: value})
	}
	return entries, nil
}

func encodeLocationLists(m map[string][]location.Location) ([]Entry, error) {
	entries := make([]Entry, 0, len(m))
	for key, locs := range m {
		value, err := json.Marshal(locs)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: []byte(key), Value: value})
	}
	return entries, nil
}

// DecodeSymbol parses a symbols-map value.
func DecodeSymbol(value []byte) (symbol.Symbol, error) {
	var s symbol.Symbol
	if err := json.Unmarshal(value, &s); err != nil {
		return symbol.Symbol{}, fmt.Errorf("decode symbol: %w", err)
	}
	return s, nil
}

// DecodeTargetRefs parses a targets-map value.
func DecodeTargetRefs(value []byte) ([]symbol.TargetRef, error) {
	var refs []symbol.TargetRef
	if err := json.Unmarshal(value, &refs); err != nil {
		return nil, fmt.Errorf("decode target refs: %w", err)
	}
	return refs, nil
}

// DecodeLocations parses a symnames- or usrs-map value.
func DecodeLocations(value []byte) ([]location.Location, error) {
	var locs []location.Location
	if err := json.Unmarshal(value, &locs); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	return locs, nil
}
