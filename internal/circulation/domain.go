// internal/circulation/domain.go
package circulation

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"librarium/internal/catalog"
)

var (
	ErrBookUnavailable = errors.New("book is already on loan")
	ErrNoActiveLoan    = errors.New("book has no active loan")
	ErrRateLimited     = errors.New("too many borrow requests")
	ErrLoanNotFound    = errors.New("loan not found")
)

const loanAggregate = "loan"

const (
	EventLoanOpened   = "LoanOpened"
	EventLoanReturned = "LoanReturned"
)

// Loan is one borrow of a book by a user.
type Loan struct {
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	Username     string        `json:"username"`
	BookID       int           `json:"book_id"`
	Book         *catalog.Book `json:"book,omitempty"`
	BorrowedDate time.Time     `json:"borrowed_date"`
	DueDate      time.Time     `json:"due_date"`
	ReturnedDate *time.Time    `json:"returned_date,omitempty"`
	IsReturned   bool          `json:"is_returned"`
	UserRating   *float64      `json:"user_rating,omitempty"`
}

// LoanOpenedEvent is appended when a book is borrowed.
type LoanOpenedEvent struct {
	LoanID  uuid.UUID `json:"loan_id"`
	UserID  uuid.UUID `json:"user_id"`
	BookID  int       `json:"book_id"`
	DueDate time.Time `json:"due_date"`
}

// LoanReturnedEvent is appended when a book comes back.
type LoanReturnedEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	UserID       uuid.UUID `json:"user_id"`
	BookID       int       `json:"book_id"`
	ReturnedDate time.Time `json:"returned_date"`
	UserRating   *float64  `json:"user_rating,omitempty"`
}

// Favorite is the most frequent value in a reading history.
type Favorite[T comparable] struct {
	Value T   `json:"value"`
	Count int `json:"count"`
}

// Dashboard summarises a user's reading.
type Dashboard struct {
	Username          string            `json:"username"`
	CurrentLoans      []*Loan           `json:"current_loans"`
	History           []*Loan           `json:"history"`
	TotalRead         int               `json:"total_read"`
	AverageUserRating *float64          `json:"average_user_rating,omitempty"`
	FavoriteAuthor    *Favorite[string] `json:"favorite_author,omitempty"`
	FavoritePublisher *Favorite[string] `json:"favorite_publisher,omitempty"`
	MostReadYear      *Favorite[int]    `json:"most_read_year,omitempty"`
	TotalPages        int               `json:"total_pages"`
	RatingFilter      *float64          `json:"rating_filter,omitempty"`
}
