package main

import (
	"github.com/spf13/cobra"
)

var envFile string

// NewRootCmd creates the authcore-server command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authcore-server",
		Short:         "Token issuance and rotation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewIdentityCmd())
	return cmd
}
