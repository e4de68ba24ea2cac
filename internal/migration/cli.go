package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI runs migration commands and prints human-readable results.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI wraps a migrator for command-line use.
func NewCLI(m Migrator) *CLI {
	return &CLI{
		migrator: m,
		output:   os.Stdout,
	}
}

// SetOutput redirects command output, mainly for tests.
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// RunUp applies all pending migrations.
func (c *CLI) RunUp(ctx context.Context) error {
	if err := c.migrator.Up(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.output, "Migrations applied successfully.")
	return nil
}

// RunDown rolls back the most recent migration.
func (c *CLI) RunDown(ctx context.Context) error {
	if err := c.migrator.Down(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.output, "Rolled back one migration.")
	return nil
}

// RunDownAll rolls back every applied migration.
func (c *CLI) RunDownAll(ctx context.Context) error {
	if err := c.migrator.DownAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.output, "Rolled back all migrations.")
	return nil
}

// RunSteps applies or rolls back n migrations.
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	if err := c.migrator.Steps(ctx, n); err != nil {
		return err
	}
	if n >= 0 {
		fmt.Fprintf(c.output, "Applied %d migration(s).\n", n)
	} else {
		fmt.Fprintf(c.output, "Rolled back %d migration(s).\n", -n)
	}
	return nil
}

// RunGoto migrates to a specific version.
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	if err := c.migrator.Goto(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Migrated to version %d.\n", version)
	return nil
}

// RunForce sets the recorded version without running migrations.
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Forced version to %d.\n", version)
	return nil
}

// RunVersion prints the current version.
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}

	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}

	if dirty {
		fmt.Fprintf(c.output, "Version: %d (dirty)\n", version)
	} else {
		fmt.Fprintf(c.output, "Version: %d\n", version)
	}
	return nil
}

// RunStatus prints a table of all migrations and their state.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")

	applied := 0
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied"
			applied++
		}
		if s.Dirty {
			state += " (dirty)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.output, "\n%d of %d migrations applied.\n", applied, len(statuses))
	return nil
}

// RunInfo prints a summary of the migration state.
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.output, "Current version:    %d\n", info.CurrentVersion)
	fmt.Fprintf(c.output, "Dirty:              %v\n", info.Dirty)
	fmt.Fprintf(c.output, "Total migrations:   %d\n", info.TotalMigrations)
	fmt.Fprintf(c.output, "Applied migrations: %d\n", info.AppliedMigrations)
	fmt.Fprintf(c.output, "Pending migrations: %d\n", info.PendingMigrations)
	return nil
}
