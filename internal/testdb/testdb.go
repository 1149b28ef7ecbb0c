// internal/testdb/testdb.go

// Package testdb opens throwaway databases with the application schema for tests.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"librarium/internal/sqlutil"
)

// SQLite returns a migrated sqlite database in a temp dir.
func SQLite(t testing.TB) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", filepath.Join(t.TempDir(), "test.db"))
	db, err := sqlutil.Open(context.Background(), sqlutil.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlutil.Migrate(context.Background(), db, sqlutil.DriverSQLite); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db
}

// Postgres connects using the PG* environment variables and skips the test
// when no server is reachable. Tables are emptied before returning.
func Postgres(t testing.TB) *sql.DB {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"), env("PGPORT", "5432"), env("PGUSER", "user"),
		env("PGPASSWORD", "password"), env("PGDATABASE", "testdb"))

	db, err := sqlutil.Open(context.Background(), sqlutil.DriverPostgres, connStr)
	if err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := sqlutil.Migrate(context.Background(), db, sqlutil.DriverPostgres); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE TABLE events, library_loans, library_books, library_users CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Book is a catalog row to seed. Nil pointers become NULL.
type Book struct {
	BookID       int
	Title        string
	Authors      string
	Rating       *float64
	Publisher    *string
	Pages        *int
	RatingsCount int
	Year         *int
	Available    bool
}

// Rating and Str are helpers for building optional Book fields.
func Rating(v float64) *float64 { return &v }
func Str(s string) *string      { return &s }
func Int(n int) *int            { return &n }

// InsertBook writes a catalog row.
func InsertBook(t testing.TB, db *sql.DB, b Book) {
	t.Helper()
	if b.Title == "" {
		b.Title = fmt.Sprintf("Book %d", b.BookID)
	}
	_, err := db.Exec(`
		INSERT INTO library_books (book_id, title, authors, average_rating, publisher, num_pages,
			ratings_count, publication_year, is_available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.BookID, b.Title, b.Authors, b.Rating, b.Publisher, b.Pages, b.RatingsCount, b.Year, b.Available)
	if err != nil {
		t.Fatalf("insert book %d: %v", b.BookID, err)
	}
}

// InsertUser writes a user row and returns its id.
func InsertUser(t testing.TB, db *sql.DB, username string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO library_users (id, username, email, full_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, username, username+"@example.com", username, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user %s: %v", username, err)
	}
	return id
}

// Loan is a loan row to seed.
type Loan struct {
	UserID     uuid.UUID
	BookID     int
	BorrowedAt time.Time
	ReturnedAt *time.Time
	UserRating *float64
}

// InsertLoan writes a loan row directly, bypassing circulation rules.
func InsertLoan(t testing.TB, db *sql.DB, l Loan) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if l.BorrowedAt.IsZero() {
		l.BorrowedAt = time.Now().UTC()
	}
	_, err := db.Exec(`
		INSERT INTO library_loans (id, user_id, book_id, borrowed_date, due_date, returned_date, is_returned, user_rating)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, l.UserID, l.BookID, l.BorrowedAt, l.BorrowedAt.AddDate(0, 0, 14), l.ReturnedAt, l.ReturnedAt != nil, l.UserRating)
	if err != nil {
		t.Fatalf("insert loan for book %d: %v", l.BookID, err)
	}
	return id
}
