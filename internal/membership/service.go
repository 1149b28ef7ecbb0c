// internal/membership/service.go
package membership

import (
	"context"
	"database/sql"
)

// Service defines the interface for the membership service.
type Service interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	// Ensure returns the user, creating it inside tx when it does not exist yet.
	Ensure(ctx context.Context, tx *sql.Tx, username string) (*User, error)
}
