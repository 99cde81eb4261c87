package main

import (
	"bufio"
	"strings"

	"github.com/educ8africa/authcore"
	"github.com/educ8africa/authcore/credential"
	"github.com/educ8africa/authcore/password"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewIdentityCmd creates the identity command used to provision accounts.
func NewIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage identities",
	}

	var tenant string
	create := &cobra.Command{
		Use:   "create ID",
		Short: "Create an identity; the password is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(newViper(envFile))
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL is required")
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return oops.Code("PASSWORD_REQUIRED").Wrap(err)
			}
			plaintext := strings.TrimRight(line, "\r\n")

			pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").Wrap(err)
			}
			defer pool.Close()

			hasher, err := password.NewHasher(authcore.DefaultConfig().Password.Params)
			if err != nil {
				return err
			}
			store, err := credential.NewPostgresStore(pool, hasher)
			if err != nil {
				return err
			}
			if err := store.Create(cmd.Context(), credential.Identity{ID: args[0], TenantID: tenant}, plaintext); err != nil {
				return err
			}
			cmd.Printf("created identity %s\n", args[0])
			return nil
		},
	}
	create.Flags().StringVar(&tenant, "tenant", "0", "tenant the identity belongs to")

	cmd.AddCommand(create)
	return cmd
}
