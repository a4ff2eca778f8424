package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCoursesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courses",
		Short: "List active Canvas courses",
		Long:  `List the Canvas courses the configured token is actively enrolled in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}

			client, err := app.canvasClient()
			if err != nil {
				return err
			}

			courses, err := client.ActiveCourses(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list courses: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(courses)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tNAME")
			for _, c := range courses {
				fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, c.Code, c.Name)
			}
			return w.Flush()
		},
	}

	return cmd
}
