//go:build !mysql

package database

import "fmt"

// newMySQLDB is a stub used when the binary is built without the
// 'mysql' build tag.
func newMySQLDB(_ Config) (*DB, error) {
	return nil, fmt.Errorf("MySQL support not available: build with -tags mysql")
}
