package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the project daemon",
	Long: `Load the project, watch its files and keep the index fresh until
interrupted. Changed files are re-indexed after a short debounce.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	proj, err := openProject()
	if err != nil {
		return err
	}
	proj.Start()

	if err := proj.ReloadCompilationDatabase(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	return proj.Stop()
}
