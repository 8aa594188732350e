// Command rye is the minimal CLI surface of spec.md §6: exec, search,
// load, and sign subcommands over the three-tier item space, each
// emitting structured JSON to stdout and human-readable progress to
// stderr. Grounded on the teacher's cobra command-tree conventions
// (its own cmd/nexus* entrypoint, since removed, followed the same
// persistent-flag-plus-subcommand shape).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rye",
		Short:         "RYE agent runtime item CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("project-path", ".", "project root (first tier of the three-tier item space)")
	root.PersistentFlags().StringSlice("system-bundle", nil, "additional immutable system bundle root (repeatable)")
	root.PersistentFlags().String("config", "", "path to a YAML/JSON5 runtime settings document (helper path, spend rates, retry policy, OTLP endpoint)")

	root.AddCommand(newExecCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newLoadCmd())
	root.AddCommand(newSignCmd())
	return root
}
