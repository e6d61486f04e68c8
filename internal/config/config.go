// Package config loads xref configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"xref/internal/watcher"
)

// Config represents the complete xref configuration.
type Config struct {
	Version     int    `json:"version" mapstructure:"version"`
	ProjectRoot string `json:"projectRoot" mapstructure:"projectRoot"`
	// DataDir holds the project database and the per-file symbol maps.
	// Relative paths are resolved against ProjectRoot.
	DataDir string `json:"dataDir" mapstructure:"dataDir"`

	Index   IndexConfig    `json:"index" mapstructure:"index"`
	Query   QueryConfig    `json:"query" mapstructure:"query"`
	Watcher watcher.Config `json:"watcher" mapstructure:"watcher"`
	Logging LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// IndexConfig controls job scheduling.
type IndexConfig struct {
	// Workers is the indexer pool size; zero means GOMAXPROCS.
	Workers int `json:"workers" mapstructure:"workers"`
	// QueueSize bounds the job queue.
	QueueSize int `json:"queueSize" mapstructure:"queueSize"`
	// DirtyDebounceMs is the quiet period before dirty files are re-indexed.
	DirtyDebounceMs int `json:"dirtyDebounceMs" mapstructure:"dirtyDebounceMs"`
	// CompilationDatabase is the compile_commands.json path, relative to
	// the project root when not absolute.
	CompilationDatabase string `json:"compilationDatabase" mapstructure:"compilationDatabase"`
	// IndexerCommand is the external indexer argv invoked per job.
	IndexerCommand []string `json:"indexerCommand" mapstructure:"indexerCommand"`
}

// QueryConfig controls the query layer.
type QueryConfig struct {
	// MaxOpenFileMaps bounds how many file maps one query scope keeps
	// resident before evicting the least recently used.
	MaxOpenFileMaps int `json:"maxOpenFileMaps" mapstructure:"maxOpenFileMaps"`
	// ValidateFileMaps verifies key order when opening maps.
	ValidateFileMaps bool `json:"validateFileMaps" mapstructure:"validateFileMaps"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// DefaultConfig returns the default configuration for a project root.
func DefaultConfig(projectRoot string) *Config {
	return &Config{
		Version:     1,
		ProjectRoot: projectRoot,
		DataDir:     ".xref",
		Index: IndexConfig{
			Workers:             0,
			QueueSize:           256,
			DirtyDebounceMs:     100,
			CompilationDatabase: "compile_commands.json",
			IndexerCommand:      []string{"xref-index"},
		},
		Query: QueryConfig{
			MaxOpenFileMaps:  64,
			ValidateFileMaps: false,
		},
		Watcher: watcher.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "human",
		},
	}
}

// Load reads the project configuration from <root>/.xref/config.{toml,yaml,json}
// with XREF_* environment overrides. Missing files yield the defaults.
func Load(projectRoot string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(filepath.Join(projectRoot, ".xref"))
	v.SetEnvPrefix("XREF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig(projectRoot)
	v.SetDefault("version", defaults.Version)
	v.SetDefault("dataDir", defaults.DataDir)
	v.SetDefault("index.workers", defaults.Index.Workers)
	v.SetDefault("index.queueSize", defaults.Index.QueueSize)
	v.SetDefault("index.dirtyDebounceMs", defaults.Index.DirtyDebounceMs)
	v.SetDefault("index.compilationDatabase", defaults.Index.CompilationDatabase)
	v.SetDefault("index.indexerCommand", defaults.Index.IndexerCommand)
	v.SetDefault("query.maxOpenFileMaps", defaults.Query.MaxOpenFileMaps)
	v.SetDefault("query.validateFileMaps", defaults.Query.ValidateFileMaps)
	v.SetDefault("watcher.enabled", defaults.Watcher.Enabled)
	v.SetDefault("watcher.ignore_patterns", defaults.Watcher.IgnorePatterns)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ProjectRoot = projectRoot
	return &cfg, nil
}

// AbsDataDir resolves the data directory against the project root.
func (c *Config) AbsDataDir() string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(c.ProjectRoot, c.DataDir)
}

// CompilationDatabasePath resolves the compile_commands.json location.
func (c *Config) CompilationDatabasePath() string {
	path := c.Index.CompilationDatabase
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ProjectRoot, path)
}
