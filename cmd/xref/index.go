package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexWait bool

var indexCmd = &cobra.Command{
	Use:   "index [match]",
	Short: "Re-index sources",
	Long: `Reload the compilation database and re-index matching sources. The
match argument is a glob or substring over source paths; omitted, every
source is re-indexed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexWait, "wait", true, "Wait for indexing to finish")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	proj, err := openProject()
	if err != nil {
		return err
	}
	proj.Start()
	defer proj.Stop() //nolint:errcheck

	if err := proj.ReloadCompilationDatabase(); err != nil {
		return err
	}

	match := ""
	if len(args) == 1 {
		match = args[0]
	}

	count, wait := proj.Reindex(match)
	fmt.Printf("started %d job(s)\n", count)
	if indexWait && wait != nil {
		<-wait
		fmt.Println("done")
	}
	return nil
}
