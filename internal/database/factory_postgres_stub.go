//go:build !postgres

package database

import "fmt"

// newPostgresDB is a stub used when the binary is built without the
// 'postgres' build tag.
func newPostgresDB(_ Config) (*DB, error) {
	return nil, fmt.Errorf("PostgreSQL support not available: build with -tags postgres")
}
