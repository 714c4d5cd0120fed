package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrUserNotFound is returned when a user record does not exist.
var ErrUserNotFound = errors.New("user not found")

// CreateUser inserts a user record. Users are managed by the surrounding
// back-office; this store only needs them as a display-join target for
// recent-call listings.
func (d *DB) CreateUser(ctx context.Context, user User) error {
	query := `INSERT INTO users (id, name, email) VALUES (?, ?, ?)`

	_, err := d.db.ExecContext(ctx, d.RebindQuery(query), user.ID, user.Name, user.Email)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by ID.
func (d *DB) GetUserByID(ctx context.Context, id string) (User, error) {
	query := `SELECT id, name, email FROM users WHERE id = ?`

	var user User
	err := d.db.QueryRowContext(ctx, d.RebindQuery(query), id).Scan(&user.ID, &user.Name, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
