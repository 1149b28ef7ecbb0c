// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// service implements the Service interface.
type service struct {
	db *sql.DB
}

// NewService creates a new membership service instance.
func NewService(db *sql.DB) Service {
	return &service{db: db}
}

// GetByUsername retrieves a user by username.
func (s *service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return getByUsername(ctx, s.db, username)
}

func getByUsername(ctx context.Context, q querier, username string) (*User, error) {
	query := `
		SELECT id, username, email, full_name, created_at
		FROM library_users
		WHERE username = $1
	`
	user := &User{}
	err := q.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Ensure gets or creates the user. New users get a placeholder email and
// their username as full name. The insert is a no-op when another
// transaction created the same username first.
func (s *service) Ensure(ctx context.Context, tx *sql.Tx, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}

	var q querier = s.db
	if tx != nil {
		q = tx
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO library_users (id, username, email, full_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO NOTHING
	`, uuid.New(), username, username+"@example.com", username, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return getByUsername(ctx, q, username)
}
