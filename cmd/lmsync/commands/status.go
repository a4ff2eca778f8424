package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the local sync state",
		Long: `Summarize the durable sync state: how many assignments are tracked,
how many are archived, and how many are recorded as submitted. Reads
only the local store; no network calls.`,
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

			counts, err := app.store.Counts(ctx)
			if err != nil {
				return fmt.Errorf("failed to read sync state: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(counts)
			}

			fmt.Printf("State store: %s\n", app.cfg.Store.Path)
			fmt.Printf("  Tracked assignments: %d\n", counts.Total)
			fmt.Printf("  Active:              %d\n", counts.Active)
			fmt.Printf("  Archived:            %d\n", counts.Archived)
			fmt.Printf("  Submitted:           %d\n", counts.Submitted)
			return nil
		},
	}

	return cmd
}
