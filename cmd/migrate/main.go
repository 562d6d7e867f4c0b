// Command migrate applies (or rolls back) the engine's own schema migrations against a
// database, independent of starting a worker. Grounded on the teacher's bb-tools "migrate"
// subcommand, reworked as a standalone binary since the engine has no broader admin-tools CLI
// of its own to attach it to.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/engine/store"
	"github.com/buildbeaver/workflow-engine/engine/store/migrations"
)

var config struct {
	driver           string
	connectionString string
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "migrate up|down|goto version-number",
	Short:         "Applies or rolls back the workflow engine's own schema migrations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.driver, "driver",
		string(store.Sqlite), "The database driver to use (sqlite3|postgres)")
	rootCmd.PersistentFlags().StringVar(&config.connectionString, "connection",
		"engine.db", "The connection string for the database to migrate")
	rootCmd.AddCommand(upCmd, downCmd, gotoCmd)
}

func newRunner() *migrations.GolangMigrateRunner {
	registry, err := logger.NewLogRegistry("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return migrations.NewEngineMigrateRunner(logger.MakeLogrusLogFactoryStdOut(registry))
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Migrates the database up to the latest version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := newRunner().Up(context.Background(), store.DBDriver(config.driver), store.DatabaseConnectionString(config.connectionString))
		if err != nil {
			return fmt.Errorf("error running 'up' migration: %w", err)
		}
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Migrates the database down to being empty",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := newRunner().Down(context.Background(), store.DBDriver(config.driver), store.DatabaseConnectionString(config.connectionString))
		if err != nil {
			return fmt.Errorf("error running 'down' migration: %w", err)
		}
		return nil
	},
}

var gotoCmd = &cobra.Command{
	Use:   "goto V",
	Short: "Migrates the database up or down to be at version V",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil || version <= 0 {
			return fmt.Errorf("error: version must be a valid positive number")
		}
		err = newRunner().Goto(context.Background(), store.DBDriver(config.driver), store.DatabaseConnectionString(config.connectionString), uint(version))
		if err != nil {
			return fmt.Errorf("error running 'goto' migration: %w", err)
		}
		return nil
	},
}
