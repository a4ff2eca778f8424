package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to Canvas, To Do, and the state store",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			failed := false
			report := func(name string, err error) {
				if err != nil {
					failed = true
					fmt.Printf("  %-12s FAIL: %v\n", name, err)
					return
				}
				fmt.Printf("  %-12s ok\n", name)
			}

			fmt.Println("Health:")

			if err := app.openStore(ctx); err != nil {
				report("store", err)
			} else {
				defer app.close(ctx)
				report("store", app.store.HealthCheck(ctx))
			}

			canvasClient, err := app.canvasClient()
			if err != nil {
				report("canvas", err)
			} else {
				report("canvas", canvasClient.HealthCheck(ctx))
			}

			graphClient, err := app.graphClient()
			if err != nil {
				report("graph", err)
			} else {
				report("graph", graphClient.HealthCheck(ctx))
			}

			if failed {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}

	return cmd
}
