package main

import (
	"strconv"

	"github.com/educ8africa/authcore/internal/db"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(
		migrateSubcommand("up", "Apply all pending migrations", cobra.NoArgs, func(m *db.Migrator, cmd *cobra.Command, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(m, cmd)
		}),
		migrateSubcommand("down", "Drop every table the migrations created", cobra.NoArgs, func(m *db.Migrator, cmd *cobra.Command, _ []string) error {
			if err := m.Down(); err != nil {
				return err
			}
			return printVersion(m, cmd)
		}),
		migrateSubcommand("version", "Print the applied schema version", cobra.NoArgs, func(m *db.Migrator, cmd *cobra.Command, _ []string) error {
			return printVersion(m, cmd)
		}),
		migrateSubcommand("force VERSION", "Mark VERSION applied after a failed migration", cobra.ExactArgs(1), func(m *db.Migrator, cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").Wrap(err)
			}
			if err := m.Force(v); err != nil {
				return err
			}
			return printVersion(m, cmd)
		}),
	)
	return cmd
}

func migrateSubcommand(use, short string, args cobra.PositionalArgs, run func(*db.Migrator, *cobra.Command, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(newViper(envFile))
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL is required")
			}
			m, err := db.NewMigrator(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer m.Close()
			return run(m, cmd, args)
		},
	}
}

func printVersion(m *db.Migrator, cmd *cobra.Command) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	cmd.Printf("schema version %d (dirty: %t)\n", v, dirty)
	return nil
}
