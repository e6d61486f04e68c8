package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compdbCmd = &cobra.Command{
	Use:   "compdb",
	Short: "Emit the known sources as a compilation database",
	Long:  "Print a compile_commands.json array built from the project's indexed sources.",
	RunE:  runCompdb,
}

func init() {
	rootCmd.AddCommand(compdbCmd)
}

func runCompdb(cmd *cobra.Command, args []string) error {
	proj, err := openProject()
	if err != nil {
		return err
	}
	proj.Start()
	defer proj.Stop() //nolint:errcheck

	out, err := proj.ToCompilationDatabase()
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
