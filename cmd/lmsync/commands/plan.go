package commands

import (
	"github.com/spf13/cobra"

	"github.com/lmsync/lmsync/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a sync would change",
		Long: `Fetch assignments and diff them against the stored state without
touching To Do or persisting anything. Unlike sync --dry-run, plan never
contacts the destination at all, so it works before auth login.`,
		Example: `  lmsync plan
  lmsync plan --json`,
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

			eng, err := app.newEngine(engine.ModeCheck)
			if err != nil {
				return err
			}

			summary, err := eng.Sync(ctx)
			if err != nil {
				return err
			}
			printSummary(summary)
			return nil
		},
	}

	return cmd
}
