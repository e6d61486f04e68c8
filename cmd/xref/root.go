package main

import (
	"xref/internal/version"

	"github.com/spf13/cobra"
)

var (
	flagRoot      string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "xref",
	Short: "xref - source code cross-reference engine",
	Long: `xref indexes the translation units of a project and answers symbol,
reference and target queries against the indexed data. Indexing is
incremental: a filesystem watcher marks changed files dirty and only the
affected translation units are re-parsed.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("xref version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "Project root directory")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (json, human)")
}
