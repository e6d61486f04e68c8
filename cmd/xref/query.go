package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xref/internal/location"
	"xref/internal/project"
	"xref/internal/symbol"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the index",
}

var followCmd = &cobra.Command{
	Use:   "follow <path:line:column>",
	Short: "Jump to the definition or declaration of the symbol at a location",
	Args:  cobra.ExactArgs(1),
	RunE:  runFollow,
}

var referencesCmd = &cobra.Command{
	Use:   "references <path:line:column>",
	Short: "List all references to the symbol at a location",
	Args:  cobra.ExactArgs(1),
	RunE:  runReferences,
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols <pattern>",
	Short: "Find symbols by name, glob patterns allowed",
	Args:  cobra.ExactArgs(1),
	RunE:  runSymbols,
}

func init() {
	queryCmd.AddCommand(followCmd, referencesCmd, symbolsCmd)
	rootCmd.AddCommand(queryCmd)
}

func withProject(fn func(*project.Project) error) error {
	proj, err := openProject()
	if err != nil {
		return err
	}
	proj.Start()
	defer proj.Stop() //nolint:errcheck
	return fn(proj)
}

func runFollow(cmd *cobra.Command, args []string) error {
	return withProject(func(proj *project.Project) error {
		loc, err := parseLocation(proj, args[0])
		if err != nil {
			return err
		}
		sym, _, ok := proj.FindSymbol(loc)
		if !ok {
			return fmt.Errorf("no symbol at %s", args[0])
		}
		target, ok := proj.BestTarget(sym)
		if !ok {
			return fmt.Errorf("no target for %s", sym.Name)
		}
		printSymbol(proj, target)
		return nil
	})
}

func runReferences(cmd *cobra.Command, args []string) error {
	return withProject(func(proj *project.Project) error {
		loc, err := parseLocation(proj, args[0])
		if err != nil {
			return err
		}
		sym, _, ok := proj.FindSymbol(loc)
		if !ok {
			return fmt.Errorf("no symbol at %s", args[0])
		}
		for _, ref := range proj.SortSymbols(proj.FindAllReferences(sym), 0) {
			fmt.Printf("%s:%d:%d\t%s\n", ref.Path, ref.Symbol.Location.Line, ref.Symbol.Location.Column, ref.Symbol.Name)
		}
		return nil
	})
}

func runSymbols(cmd *cobra.Command, args []string) error {
	return withProject(func(proj *project.Project) error {
		proj.FindSymbols(args[0], func(match project.MatchType, name string, locs []location.Location) {
			for _, loc := range locs {
				fmt.Printf("%s:%d:%d\t%s\t%s\n",
					proj.Registry().Path(loc.FileID), loc.Line, loc.Column, name, match)
			}
		}, project.QueryStartsWith, 0)
		return nil
	})
}

func printSymbol(proj *project.Project, sym symbol.Symbol) {
	fmt.Printf("%s:%d:%d\t%s\t%s\n",
		proj.Registry().Path(sym.Location.FileID),
		sym.Location.Line, sym.Location.Column, sym.Name, sym.Kind)
}
