package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/liveyourdreams/backoffice-metering/internal/database"
	"github.com/liveyourdreams/backoffice-metering/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

// gooseDialect maps a driver to the dialect name goose expects.
func gooseDialect(driver database.DriverType) string {
	if driver == database.DriverSQLite {
		return "sqlite3"
	}
	return string(driver)
}

// openForMigration opens the configured database without requiring the full
// service configuration; schema management needs no secrets. Opening already
// applies pending migrations, so "up" only needs the connection established.
func openForMigration() (*database.DB, error) {
	_ = godotenv.Load()
	return database.NewFromConfig(database.ConfigFromEnv())
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openForMigration()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if err := migrations.Up(db.DB(), gooseDialect(db.Driver())); err != nil {
			return err
		}
		version, err := migrations.Version(db.DB(), gooseDialect(db.Driver()))
		if err != nil {
			return err
		}
		fmt.Printf("Schema is up to date at version %d.\n", version)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openForMigration()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if err := migrations.Down(db.DB(), gooseDialect(db.Driver())); err != nil {
			return err
		}
		version, err := migrations.Version(db.DB(), gooseDialect(db.Driver()))
		if err != nil {
			return err
		}
		fmt.Printf("Rolled back to version %d.\n", version)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openForMigration()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		version, err := migrations.Version(db.DB(), gooseDialect(db.Driver()))
		if err != nil {
			return err
		}
		fmt.Printf("Schema version: %d\n", version)
		return nil
	},
}
