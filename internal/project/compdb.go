package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"xref/internal/indexer"
	"xref/internal/location"
	"xref/internal/storage"
)

// CompileCommand is one compile_commands.json entry. Either Arguments or the
// whitespace-joined Command form may be present.
type CompileCommand struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Arguments []string `json:"arguments,omitempty"`
	Command   string   `json:"command,omitempty"`
}

// args returns the argv of the entry, whichever form it uses.
func (c CompileCommand) args() []string {
	if len(c.Arguments) > 0 {
		return c.Arguments
	}
	return strings.Fields(c.Command)
}

// source converts the entry to a Source, registering the file path.
func (c CompileCommand) source(p *Project) (indexer.Source, bool) {
	argv := c.args()
	if len(argv) == 0 || c.File == "" {
		return indexer.Source{}, false
	}

	path := c.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.Directory, path)
	}
	path = filepath.Clean(path)

	args := make([]string, 0, len(argv)-1)
	for _, arg := range argv[1:] {
		// The file itself is not part of the argument set; keeping it there
		// would make the source key vary with path spelling.
		if arg == c.File || arg == path {
			continue
		}
		args = append(args, arg)
	}

	src := indexer.Source{
		FileID:   p.registry.InsertFile(path),
		Path:     path,
		Args:     args,
		Compiler: argv[0],
	}
	if st, err := os.Stat(path); err == nil {
		src.ModTime = st.ModTime().Unix()
	}
	return src, true
}

// LoadCompilationDatabase parses a compile_commands.json file.
func LoadCompilationDatabase(path string) ([]CompileCommand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compilation database: %w", err)
	}
	var commands []CompileCommand
	if err := json.Unmarshal(data, &commands); err != nil {
		return nil, fmt.Errorf("parse compilation database: %w", err)
	}
	return commands, nil
}

// ReloadCompilationDatabase re-reads the compilation database and applies the
// difference against the current sources.
func (p *Project) ReloadCompilationDatabase() error {
	var err error
	p.call(func() {
		err = p.reloadCompilationDatabase()
	})
	return err
}

// reloadCompilationDatabase runs on the loop. The reload is diff-then-apply:
// removed sources are dropped, added or changed sources are marked dirty;
// unchanged sources are untouched.
func (p *Project) reloadCompilationDatabase() error {
	path := p.config.CompilationDatabasePath()
	if path == "" {
		return nil
	}
	commands, err := LoadCompilationDatabase(path)
	if err != nil {
		return err
	}

	incoming := make(map[uint64]indexer.Source, len(commands))
	for _, cmd := range commands {
		src, ok := cmd.source(p)
		if !ok {
			continue
		}
		incoming[src.Key()] = src
	}

	existing := make(map[uint64]location.FileID)
	for id, srcs := range p.sources {
		for _, src := range srcs {
			existing[src.Key()] = id
		}
	}

	added, removed := 0, 0
	for key, src := range incoming {
		if _, ok := existing[key]; ok {
			continue
		}
		p.sources[src.FileID] = append(p.sources[src.FileID], src)
		p.watch(filepath.Dir(src.Path), WatchSourceFile)
		p.dirty(src.FileID)
		added++
	}
	for key, id := range existing {
		if _, ok := incoming[key]; ok {
			continue
		}
		// Drop just this argument set; the file disappears entirely only
		// when its last source goes.
		srcs := p.sources[id][:0]
		for _, src := range p.sources[id] {
			if src.Key() != key {
				srcs = append(srcs, src)
			}
		}
		if len(srcs) == 0 {
			p.removeSource(id)
		} else {
			p.sources[id] = srcs
		}
		removed++
	}

	var st os.FileInfo
	if st, err = os.Stat(path); err == nil {
		p.compDB = &storage.CompDBInfo{
			Dir:             filepath.Dir(path),
			LastModified:    st.ModTime().Unix(),
			PathEnvironment: os.Getenv("PATH"),
		}
	}

	p.logger.Info("Compilation database reloaded", map[string]interface{}{
		"entries": len(incoming),
		"added":   added,
		"removed": removed,
	})
	return nil
}

// ToCompilationDatabase renders the current sources as a compile_commands
// JSON array of {directory, file, arguments} records.
func (p *Project) ToCompilationDatabase() ([]byte, error) {
	var out []byte
	var err error
	p.call(func() {
		commands := make([]CompileCommand, 0, len(p.sources))
		for _, srcs := range p.sources {
			for _, src := range srcs {
				args := make([]string, 0, len(src.Args)+2)
				args = append(args, src.Compiler)
				args = append(args, src.Args...)
				args = append(args, src.Path)
				commands = append(commands, CompileCommand{
					Directory: filepath.Dir(src.Path),
					File:      src.Path,
					Arguments: args,
				})
			}
		}
		out, err = json.MarshalIndent(commands, "", "  ")
	})
	if err != nil {
		return nil, fmt.Errorf("encode compilation database: %w", err)
	}
	return out, nil
}
