// internal/recommend/store.go
package recommend

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"librarium/internal/catalog"
	"librarium/internal/membership"
)

// UserLookup resolves usernames. membership.Service satisfies it.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*membership.User, error)
}

// LoanHistoryReader supplies every loan of a user with its book.
type LoanHistoryReader interface {
	LoansForUser(ctx context.Context, userID uuid.UUID) ([]LoanRecord, error)
}

// CatalogReader is the read side of the catalog the engine needs.
type CatalogReader interface {
	// AvailableBooks returns every book that is currently on the shelf.
	AvailableBooks(ctx context.Context) ([]*catalog.Book, error)
	// LoanCounts maps book ids to the number of loans ever made on them.
	LoanCounts(ctx context.Context) (map[int]int, error)
	// TopRated returns available books by rating then ratings count.
	TopRated(ctx context.Context, limit int) ([]*catalog.Book, error)
	// Supplemental returns available books rated at least minRating, most
	// rated first, skipping ids in exclude.
	Supplemental(ctx context.Context, minRating float64, exclude map[int]struct{}, limit int) ([]*catalog.Book, error)
}

// SQLStore implements LoanHistoryReader and CatalogReader over the shared schema.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store on db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// LoansForUser returns the user's loans in borrow order.
func (s *SQLStore) LoansForUser(ctx context.Context, userID uuid.UUID) ([]LoanRecord, error) {
	query := `SELECT ` + catalog.QualifiedBookColumns("b") + `, l.id, l.is_returned, l.user_rating
		FROM library_loans l
		JOIN library_books b ON b.book_id = l.book_id
		WHERE l.user_id = $1
		ORDER BY l.borrowed_date ASC, l.id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var out []LoanRecord
	for rows.Next() {
		var (
			rec    LoanRecord
			rating sql.NullFloat64
		)
		book, err := catalog.ScanBook(rows, &rec.LoanID, &rec.IsReturned, &rating)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		rec.Book = book
		if rating.Valid {
			rec.UserRating = &rating.Float64
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AvailableBooks implements CatalogReader.
func (s *SQLStore) AvailableBooks(ctx context.Context) ([]*catalog.Book, error) {
	return s.books(ctx, `SELECT `+catalog.BookColumns+` FROM library_books
		WHERE is_available = TRUE
		ORDER BY book_id ASC`)
}

// LoanCounts implements CatalogReader.
func (s *SQLStore) LoanCounts(ctx context.Context) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, COUNT(*)
		FROM library_loans
		GROUP BY book_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count loans: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var bookID, n int
		if err := rows.Scan(&bookID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan loan count: %w", err)
		}
		counts[bookID] = n
	}
	return counts, rows.Err()
}

// TopRated implements CatalogReader.
func (s *SQLStore) TopRated(ctx context.Context, limit int) ([]*catalog.Book, error) {
	return s.books(ctx, `SELECT `+catalog.BookColumns+` FROM library_books
		WHERE is_available = TRUE
		ORDER BY average_rating DESC NULLS LAST, ratings_count DESC, book_id ASC
		LIMIT $1`, limit)
}

// Supplemental implements CatalogReader.
func (s *SQLStore) Supplemental(ctx context.Context, minRating float64, exclude map[int]struct{}, limit int) ([]*catalog.Book, error) {
	if limit <= 0 {
		return []*catalog.Book{}, nil
	}
	// exclude can be arbitrarily large, so it is applied while reading.
	rows, err := s.db.QueryContext(ctx, `SELECT `+catalog.BookColumns+` FROM library_books
		WHERE is_available = TRUE AND average_rating >= $1
		ORDER BY ratings_count DESC, average_rating DESC, book_id ASC`, minRating)
	if err != nil {
		return nil, fmt.Errorf("failed to query supplemental books: %w", err)
	}
	defer rows.Close()

	out := make([]*catalog.Book, 0, limit)
	for rows.Next() && len(out) < limit {
		b, err := catalog.ScanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		if _, skip := exclude[b.BookID]; skip {
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLStore) books(ctx context.Context, query string, args ...any) ([]*catalog.Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	out := make([]*catalog.Book, 0)
	for rows.Next() {
		b, err := catalog.ScanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
