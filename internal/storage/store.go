package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"xref/internal/indexer"
	"xref/internal/location"
)

// CompDBInfo records the compilation database the sources came from.
type CompDBInfo struct {
	Dir             string   `json:"dir"`
	LastModified    int64    `json:"lastModified"`
	PathEnvironment string   `json:"pathEnvironment"`
	IndexFlags      []string `json:"indexFlags"`
}

// ProjectState is everything the project persists between runs.
type ProjectState struct {
	// Files is the id registry snapshot.
	Files map[location.FileID]string
	// Sources maps file ids to their compile configurations.
	Sources map[location.FileID][]indexer.Source
	// Dependencies holds each file's direct include list; reverse links are
	// recomputed on load.
	Dependencies map[location.FileID][]location.FileID
	// Visited are files claimed by jobs at save time.
	Visited map[location.FileID]string
	// Dirty are files awaiting re-index at save time.
	Dirty []location.FileID
	// CompDB describes the compilation database, if one was loaded.
	CompDB *CompDBInfo
}

// NewProjectState creates an empty state.
func NewProjectState() *ProjectState {
	return &ProjectState{
		Files:        make(map[location.FileID]string),
		Sources:      make(map[location.FileID][]indexer.Source),
		Dependencies: make(map[location.FileID][]location.FileID),
		Visited:      make(map[location.FileID]string),
	}
}

// SaveState replaces the persisted project state in a single transaction, so
// readers never observe a half-written save.
func (db *DB) SaveState(state *ProjectState) error {
	return db.WithTx(func(tx *sql.Tx) error {
		for _, table := range []string{"files", "sources", "dependencies", "visited_files", "dirty_files", "compdb"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		fileStmt, err := tx.Prepare(`INSERT INTO files (id, path) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare files insert: %w", err)
		}
		defer fileStmt.Close() //nolint:errcheck
		for id, path := range state.Files {
			if _, err := fileStmt.Exec(int64(id), path); err != nil {
				return fmt.Errorf("insert file %d: %w", id, err)
			}
		}

		srcStmt, err := tx.Prepare(`
			INSERT INTO sources (source_key, file_id, path, args, compiler, mtime)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare sources insert: %w", err)
		}
		defer srcStmt.Close() //nolint:errcheck
		for id, sources := range state.Sources {
			for _, src := range sources {
				args, err := json.Marshal(src.Args)
				if err != nil {
					return fmt.Errorf("encode args for %s: %w", src.Path, err)
				}
				key := strconv.FormatUint(src.Key(), 10)
				if _, err := srcStmt.Exec(key, int64(id), src.Path, string(args), src.Compiler, src.ModTime); err != nil {
					return fmt.Errorf("insert source %s: %w", src.Path, err)
				}
			}
		}

		depStmt, err := tx.Prepare(`INSERT INTO dependencies (file_id, include_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare dependencies insert: %w", err)
		}
		defer depStmt.Close() //nolint:errcheck
		for id, includes := range state.Dependencies {
			for _, inc := range includes {
				if _, err := depStmt.Exec(int64(id), int64(inc)); err != nil {
					return fmt.Errorf("insert dependency %d->%d: %w", id, inc, err)
				}
			}
		}

		visStmt, err := tx.Prepare(`INSERT INTO visited_files (file_id, path) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare visited insert: %w", err)
		}
		defer visStmt.Close() //nolint:errcheck
		for id, path := range state.Visited {
			if _, err := visStmt.Exec(int64(id), path); err != nil {
				return fmt.Errorf("insert visited %d: %w", id, err)
			}
		}

		for _, id := range state.Dirty {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO dirty_files (file_id) VALUES (?)`, int64(id)); err != nil {
				return fmt.Errorf("insert dirty %d: %w", id, err)
			}
		}

		if state.CompDB != nil {
			flags, err := json.Marshal(state.CompDB.IndexFlags)
			if err != nil {
				return fmt.Errorf("encode compdb flags: %w", err)
			}
			_, err = tx.Exec(`
				INSERT INTO compdb (id, dir, last_modified, path_env, index_flags)
				VALUES (1, ?, ?, ?, ?)
			`, state.CompDB.Dir, state.CompDB.LastModified, state.CompDB.PathEnvironment, string(flags))
			if err != nil {
				return fmt.Errorf("insert compdb info: %w", err)
			}
		}
		return nil
	})
}

// LoadState reads the persisted project state.
func (db *DB) LoadState() (*ProjectState, error) {
	state := NewProjectState()

	rows, err := db.conn.Query(`SELECT id, path FROM files`)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		state.Files[location.FileID(id)] = path
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sources, err := readSources(db.conn)
	if err != nil {
		return nil, err
	}
	state.Sources = sources

	depRows, err := db.conn.Query(`SELECT file_id, include_id FROM dependencies`)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer depRows.Close() //nolint:errcheck
	for depRows.Next() {
		var id, inc int64
		if err := depRows.Scan(&id, &inc); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		f := location.FileID(id)
		state.Dependencies[f] = append(state.Dependencies[f], location.FileID(inc))
	}
	if err := depRows.Err(); err != nil {
		return nil, err
	}

	visRows, err := db.conn.Query(`SELECT file_id, path FROM visited_files`)
	if err != nil {
		return nil, fmt.Errorf("query visited files: %w", err)
	}
	defer visRows.Close() //nolint:errcheck
	for visRows.Next() {
		var id int64
		var path string
		if err := visRows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("scan visited file: %w", err)
		}
		state.Visited[location.FileID(id)] = path
	}
	if err := visRows.Err(); err != nil {
		return nil, err
	}

	dirtyRows, err := db.conn.Query(`SELECT file_id FROM dirty_files`)
	if err != nil {
		return nil, fmt.Errorf("query dirty files: %w", err)
	}
	defer dirtyRows.Close() //nolint:errcheck
	for dirtyRows.Next() {
		var id int64
		if err := dirtyRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dirty file: %w", err)
		}
		state.Dirty = append(state.Dirty, location.FileID(id))
	}
	if err := dirtyRows.Err(); err != nil {
		return nil, err
	}

	var info CompDBInfo
	var flags string
	err = db.conn.QueryRow(`SELECT dir, last_modified, path_env, index_flags FROM compdb WHERE id = 1`).
		Scan(&info.Dir, &info.LastModified, &info.PathEnvironment, &flags)
	if err == nil {
		if err := json.Unmarshal([]byte(flags), &info.IndexFlags); err != nil {
			return nil, fmt.Errorf("decode compdb flags: %w", err)
		}
		state.CompDB = &info
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query compdb info: %w", err)
	}

	return state, nil
}

// ReadSources reads just the sources table from a project database. Usable by
// external restore tooling without constructing a project.
func ReadSources(dbPath string) (map[location.FileID][]indexer.Source, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer conn.Close() //nolint:errcheck
	return readSources(conn)
}

func readSources(conn *sql.DB) (map[location.FileID][]indexer.Source, error) {
	rows, err := conn.Query(`SELECT file_id, path, args, compiler, mtime FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	sources := make(map[location.FileID][]indexer.Source)
	for rows.Next() {
		var id, mtime int64
		var path, args, compiler string
		if err := rows.Scan(&id, &path, &args, &compiler, &mtime); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src := indexer.Source{
			FileID:   location.FileID(id),
			Path:     path,
			Compiler: compiler,
			ModTime:  mtime,
		}
		if err := json.Unmarshal([]byte(args), &src.Args); err != nil {
			return nil, fmt.Errorf("decode args for %s: %w", path, err)
		}
		sources[src.FileID] = append(sources[src.FileID], src)
	}
	return sources, rows.Err()
}
