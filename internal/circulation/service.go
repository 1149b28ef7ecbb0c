// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"librarium/internal/eventstore"
)

// Service defines the interface for the circulation service.
type Service interface {
	Borrow(ctx context.Context, username string, bookID int) (*Loan, error)
	// Return closes the open loan of a book. rating is applied only when it
	// parses to a value between 0 and 5.
	Return(ctx context.Context, bookID int, rating string) (*Loan, error)
	ActiveLoans(ctx context.Context) ([]*Loan, error)
	Dashboard(ctx context.Context, username, ratingFilter string) (*Dashboard, error)
	// LoanEvents returns the recorded history of one loan, oldest first.
	LoanEvents(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error)
}
