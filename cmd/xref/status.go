package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project status",
	Long:  "Display source counts, active jobs, watched paths and memory estimates.",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	proj, err := openProject()
	if err != nil {
		return err
	}
	proj.Start()
	defer proj.Stop() //nolint:errcheck

	stats := proj.Stats()
	memory := proj.EstimateMemory()

	if statusFormat == "json" {
		out := map[string]interface{}{
			"stats":  stats,
			"memory": memory,
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s:\t%v\n", k, stats[k])
	}
	fmt.Fprintln(w)
	for _, k := range sortedMemKeys(memory) {
		fmt.Fprintf(w, "memory.%s:\t%d bytes\n", k, memory[k])
	}
	return w.Flush()
}

func sortedMemKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
