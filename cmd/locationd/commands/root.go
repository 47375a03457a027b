// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated to
// handler functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the locationd CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locationd",
		Short: "Reconcile phone locations into cluster node labels",
	}

	cmd.AddCommand(Sync())
	cmd.AddCommand(Version())

	return cmd
}
