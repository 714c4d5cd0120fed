//go:build mysql

package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/liveyourdreams/backoffice-metering/internal/database/migrations"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// newMySQLDB creates a new MySQL database connection.
// Only available when built with the 'mysql' build tag.
func newMySQLDB(config Config) (*DB, error) {
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for MySQL driver")
	}

	// parseTime is required so DATETIME columns scan into time.Time.
	dsn := config.DatabaseURL
	if !containsParam(dsn, "parseTime") {
		dsn = appendParam(dsn, "parseTime=true")
	}
	if !containsParam(dsn, "loc") {
		dsn = appendParam(dsn, "loc=UTC")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	if err := migrations.Up(db, "mysql"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run MySQL migrations: %w", err)
	}

	return &DB{db: db, driver: DriverMySQL}, nil
}

// containsParam reports whether the DSN already sets the given parameter.
func containsParam(dsn, param string) bool {
	return strings.Contains(dsn, param+"=")
}

// appendParam appends a query parameter to a MySQL DSN.
func appendParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
