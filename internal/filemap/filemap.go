// Package filemap implements the on-disk per-file symbol maps.
//
// A map file is an immutable sorted key/value table: a small header followed
// by a zstd-compressed stream of length-prefixed entries in ascending key
// order. Readers load the table once and serve exact lookups by binary search
// and ordered range scans by index. One map file exists per (file id, kind)
// under the project data directory.
package filemap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

const (
	magic         = "XRFM"
	formatVersion = 1
)

// Options adjust how maps are opened.
type Options uint32

const (
	// OptionNone opens with defaults.
	OptionNone Options = 0
	// OptionValidate verifies key ordering while loading. Corrupt files are
	// rejected instead of serving wrong range scans.
	OptionValidate Options = 1 << iota
)

// Entry is a single key/value pair.
type Entry struct {
	Key   []byte
	Value []byte
}

// Map is a loaded, immutable sorted table. Not safe for concurrent mutation,
// but it has none; concurrent reads are fine.
type Map struct {
	path    string
	entries []Entry
	bytes   int
}

// Open loads the map at path. A missing or corrupt file returns an error; the
// caller is expected to schedule a re-index of the owning file.
func Open(path string, opts Options) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file map %s: %w", path, err)
	}

	if len(data) < len(magic)+1 || string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("open file map %s: bad magic", path)
	}
	if v := data[len(magic)]; v != formatVersion {
		return nil, fmt.Errorf("open file map %s: unsupported version %d", path, v)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("open file map %s: %w", path, err)
	}
	defer dec.Close()

	payload, err := dec.DecodeAll(data[len(magic)+1:], nil)
	if err != nil {
		return nil, fmt.Errorf("open file map %s: decompress: %w", path, err)
	}

	entries, total, err := decodeEntries(payload)
	if err != nil {
		return nil, fmt.Errorf("open file map %s: %w", path, err)
	}

	if opts&OptionValidate != 0 {
		for i := 1; i < len(entries); i++ {
			if bytes.Compare(entries[i-1].Key, entries[i].Key) >= 0 {
				return nil, fmt.Errorf("open file map %s: keys out of order at entry %d", path, i)
			}
		}
	}

	return &Map{path: path, entries: entries, bytes: total}, nil
}

func decodeEntries(payload []byte) ([]Entry, int, error) {
	buf := bytes.NewReader(payload)
	count, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("entry count: %w", err)
	}

	entries := make([]Entry, 0, count)
	total := 0
	for i := uint64(0); i < count; i++ {
		key, err := readChunk(buf)
		if err != nil {
			return nil, 0, fmt.Errorf("entry %d key: %w", i, err)
		}
		value, err := readChunk(buf)
		if err != nil {
			return nil, 0, fmt.Errorf("entry %d value: %w", i, err)
		}
		entries = append(entries, Entry{Key: key, Value: value})
		total += len(key) + len(value)
	}
	return entries, total, nil
}

func readChunk(buf *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > uint64(buf.Len()) {
		return nil, fmt.Errorf("truncated chunk: want %d bytes, have %d", n, buf.Len())
	}
	chunk := make([]byte, n)
	if _, err := io.ReadFull(buf, chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// Path returns the file the map was loaded from.
func (m *Map) Path() string {
	return m.path
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.entries)
}

// MemoryUsage returns the resident byte size of keys and values.
func (m *Map) MemoryUsage() int {
	return m.bytes
}

// Get returns the value for an exact key match.
func (m *Map) Get(key []byte) ([]byte, bool) {
	i := m.LowerBound(key)
	if i < len(m.entries) && bytes.Equal(m.entries[i].Key, key) {
		return m.entries[i].Value, true
	}
	return nil, false
}

// LowerBound returns the index of the first entry whose key is >= key.
func (m *Map) LowerBound(key []byte) int {
	return sort.Search(len(m.entries), func(i int) bool {
		return bytes.Compare(m.entries[i].Key, key) >= 0
	})
}

// At returns the entry at index i.
func (m *Map) At(i int) Entry {
	return m.entries[i]
}

// Range calls fn for every entry in key order until fn returns false.
func (m *Map) Range(fn func(Entry) bool) {
	for _, e := range m.entries {
		if !fn(e) {
			return
		}
	}
}

// PrefixRange calls fn for every entry whose key starts with prefix, in key
// order, until fn returns false.
func (m *Map) PrefixRange(prefix []byte, fn func(Entry) bool) {
	for i := m.LowerBound(prefix); i < len(m.entries); i++ {
		if !bytes.HasPrefix(m.entries[i].Key, prefix) {
			return
		}
		if !fn(m.entries[i]) {
			return
		}
	}
}

// Write builds a map file atomically: entries are sorted, encoded, compressed
// and written to a temp file that is renamed over path.
func Write(path string, entries []Entry) error {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	var payload bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte
	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		payload.Write(scratch[:n])
	}

	writeUvarint(uint64(len(sorted)))
	for _, e := range sorted {
		writeUvarint(uint64(len(e.Key)))
		payload.Write(e.Key)
		writeUvarint(uint64(len(e.Value)))
		payload.Write(e.Value)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("write file map %s: %w", path, err)
	}
	compressed := enc.EncodeAll(payload.Bytes(), nil)
	if err := enc.Close(); err != nil {
		return fmt.Errorf("write file map %s: %w", path, err)
	}

	out := make([]byte, 0, len(magic)+1+len(compressed))
	out = append(out, magic...)
	out = append(out, formatVersion)
	out = append(out, compressed...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("write file map %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write file map %s: %w", path, err)
	}
	return nil
}
