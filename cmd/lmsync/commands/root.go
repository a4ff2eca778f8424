// Package commands implements the lmsync CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lmsync",
		Short: "Sync Canvas assignments to Microsoft To Do",
		Long: `lmsync mirrors Canvas LMS assignments into a Microsoft To Do task list.

Each run fetches every assignment from active courses, diffs it against
the locally stored sync state, and applies the minimal set of changes to
To Do: new assignments become tasks, submitted work is checked off,
changed due dates and titles propagate, and assignments that disappear
from Canvas are archived (never deleted).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newCoursesCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newAuthCommand())

	return rootCmd
}
