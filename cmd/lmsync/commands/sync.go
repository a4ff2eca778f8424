package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lmsync/lmsync/pkg/engine"
)

func newSyncCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync",
		Long: `Fetch every assignment from active Canvas courses, diff against the
stored sync state, and apply the required changes to the To Do list.

A failed assignment is reported and skipped; the run continues with the
rest. The exit code is 0 when everything applied, 1 when any assignment
failed.`,
		Example: `  # Full sync
  lmsync sync

  # Preview without touching To Do or local state
  lmsync sync --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := app.openStore(ctx); err != nil {
				return err
			}
			defer app.close(ctx)

			if err := app.metrics.StartServer(); err != nil {
				return err
			}
			defer app.metrics.StopServer(ctx)

			mode := engine.ModeApply
			if dryRun {
				mode = engine.ModeDryRun
			}

			eng, err := app.newEngine(mode)
			if err != nil {
				return err
			}

			summary, err := eng.Sync(ctx)
			if summary != nil {
				printSummary(summary)
			}
			if err != nil {
				return err
			}
			if summary.HasFailures() {
				return fmt.Errorf("%d assignments failed to sync", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the diff but change nothing")

	return cmd
}

func printSummary(s *engine.Summary) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(s)
		return
	}

	fmt.Printf("Run %s\n", s.RunID)
	fmt.Printf("  Assignments fetched: %d\n", s.TotalAssignments)
	if len(s.Planned) > 0 {
		fmt.Println("  Planned:")
		for _, t := range []engine.ActionType{
			engine.ActionCreate, engine.ActionComplete, engine.ActionReopen,
			engine.ActionUpdateDueDate, engine.ActionUpdateTitle,
			engine.ActionArchive, engine.ActionReactivate,
		} {
			if n := s.Planned[t]; n > 0 {
				fmt.Printf("    %-16s %d\n", t, n)
			}
		}
	}
	fmt.Printf("  Created: %d  Completed: %d  Reopened: %d\n", s.Created, s.Completed, s.Reopened)
	fmt.Printf("  Due dates: %d  Titles: %d  Archived: %d  Reactivated: %d\n",
		s.DueDateUpdated, s.TitleUpdated, s.Archived, s.Reactivated)
	fmt.Printf("  Unchanged: %d  Skipped: %d  Failed: %d\n", s.Unchanged, s.SkippedDryRun, s.Failed)
	fmt.Printf("  Duration: %s\n", s.Duration.Round(time.Millisecond))

	for _, f := range s.Failures {
		fmt.Printf("  FAILED %s (%s): %s\n", f.Key, f.Action, f.Err)
	}
}
