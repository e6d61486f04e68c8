package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"xref/internal/config"
	"xref/internal/indexer"
	"xref/internal/location"
	"xref/internal/logging"
	"xref/internal/project"
)

// loadConfig resolves the project root and reads its configuration, applying
// CLI log overrides.
func loadConfig() (*config.Config, *logging.Logger, error) {
	root, err := filepath.Abs(flagRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve root: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, nil, err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Logging.Format = flagLogFormat
	}

	logger := logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})
	return cfg, logger, nil
}

// openProject builds and initializes a project with the configured external
// indexer backend. The caller owns Start/Stop.
func openProject() (*project.Project, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	backend := &indexer.ExecBackend{Command: cfg.Index.IndexerCommand}
	proj, err := project.New(cfg, backend, logger)
	if err != nil {
		return nil, err
	}
	backend.Registry = proj.Registry()

	if err := proj.Init(); err != nil {
		return nil, fmt.Errorf("initialize project: %w", err)
	}
	return proj, nil
}

// parseLocation parses "path:line:column" into a Location, resolving the path
// through the project's registry.
func parseLocation(proj *project.Project, arg string) (location.Location, error) {
	parts := strings.Split(arg, ":")
	if len(parts) < 3 {
		return location.Location{}, fmt.Errorf("location must be path:line:column, got %q", arg)
	}

	path := strings.Join(parts[:len(parts)-2], ":")
	abs, err := filepath.Abs(path)
	if err != nil {
		return location.Location{}, err
	}
	line, err := strconv.ParseUint(parts[len(parts)-2], 10, 32)
	if err != nil {
		return location.Location{}, fmt.Errorf("bad line in %q: %w", arg, err)
	}
	column, err := strconv.ParseUint(parts[len(parts)-1], 10, 32)
	if err != nil {
		return location.Location{}, fmt.Errorf("bad column in %q: %w", arg, err)
	}

	id := proj.Registry().FileID(abs)
	if id == 0 {
		return location.Location{}, fmt.Errorf("unknown file: %s", abs)
	}
	return location.Location{FileID: id, Line: uint32(line), Column: uint32(column)}, nil
}
