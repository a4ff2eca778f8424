package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage Microsoft account credentials",
	}

	cmd.AddCommand(newAuthLoginCommand())
	cmd.AddCommand(newAuthResetCommand())

	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with a device code",
		Long: `Run the Microsoft device-code flow and cache the resulting token.
Subsequent syncs refresh the token silently until it is revoked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}

			auth, err := app.authenticator()
			if err != nil {
				return err
			}

			if err := auth.Login(cmd.Context()); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Println("Signed in. Credentials cached.")
			return nil
		},
	}
}

func newAuthResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete cached credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}

			auth, err := app.authenticator()
			if err != nil {
				return err
			}

			if err := auth.Reset(); err != nil {
				return err
			}
			fmt.Println("Credentials cleared.")
			return nil
		},
	}
}
