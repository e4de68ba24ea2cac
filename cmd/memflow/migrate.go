package main

import (
	"context"
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/migration"
)

func init() {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL store schema",
		Long: `Migrate maintains the schema the SQL store depends on. The target
database comes from the loaded config; --db-type plus --db-url override it
with a direct connection.`,
	}
	migrateCmd.PersistentFlags().String("db-type", "", "database type: postgres, mysql, or sqlite (default from config)")
	migrateCmd.PersistentFlags().String("db-url", "", "database connection URL (default built from config)")

	migrateCmd.AddCommand(
		migrateSubcmd("up", "Apply all pending migrations", (*migration.CLI).RunUp),
		migrateSubcmd("down", "Roll back the most recent migration", (*migration.CLI).RunDown),
		migrateSubcmd("reset", "Roll back all migrations", (*migration.CLI).RunDownAll),
		migrateSubcmd("status", "Show each migration and its state", (*migration.CLI).RunStatus),
		migrateSubcmd("version", "Show the current schema version", (*migration.CLI).RunVersion),
		migrateSubcmd("info", "Summarize the migration state", (*migration.CLI).RunInfo),
	)

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "steps <n>",
		Short: "Apply (positive n) or roll back (negative n) migrations",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				exitErr("parse step count", err)
			}
			withMigrationCLI(cmd, func(c *migration.CLI, ctx context.Context) error {
				return c.RunSteps(ctx, n)
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "goto <version>",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				exitErr("parse version", err)
			}
			withMigrationCLI(cmd, func(c *migration.CLI, ctx context.Context) error {
				return c.RunGoto(ctx, uint(v))
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the recorded version without running migrations",
		Long: `Force overwrites the schema version record, clearing a dirty state left
by a failed migration. It runs no migration itself.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				exitErr("parse version", err)
			}
			withMigrationCLI(cmd, func(c *migration.CLI, ctx context.Context) error {
				return c.RunForce(ctx, v)
			})
		},
	})

	rootCmd.AddCommand(migrateCmd)
}

// migrateSubcmd builds a migration subcommand that takes no arguments.
func migrateSubcmd(use, short string, fn func(*migration.CLI, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			withMigrationCLI(cmd, fn)
		},
	}
}

// withMigrationCLI builds a migrator from the --db-type/--db-url pair, or
// from the loaded config, and runs fn against it.
func withMigrationCLI(cmd *cobra.Command, fn func(*migration.CLI, context.Context) error) {
	dbType, _ := cmd.Flags().GetString("db-type")
	dbURL, _ := cmd.Flags().GetString("db-url")

	var (
		migrator migration.Migrator
		err      error
	)
	if dbURL != "" {
		if dbType == "" {
			exitErr("create migrator", errors.New("--db-url requires --db-type"))
		}
		migrator, err = migration.NewMigratorFromURL(dbType, dbURL)
	} else {
		var cfg *config.Config
		if cfg, err = loadConfig(); err != nil {
			exitErr("load config", err)
		}
		if dbType != "" {
			cfg.Database.Driver = dbType
		}
		migrator, err = migration.NewMigratorFromDatabaseConfig(&cfg.Database)
	}
	if err != nil {
		exitErr("create migrator", err)
	}

	if err := fn(migration.NewCLI(migrator), cmd.Context()); err != nil {
		migrator.Close()
		exitErr("migrate", err)
	}
	if err := migrator.Close(); err != nil {
		exitErr("close migrator", err)
	}
}
