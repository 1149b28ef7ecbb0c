// internal/sqlutil/schema.go
package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
)

// book_id is the catalog's business key and is enforced unique so that it can
// serve as the identity for loans and recommendation exclusion.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS library_users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS library_books (
		book_id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		authors TEXT NOT NULL DEFAULT '',
		average_rating NUMERIC(3,2),
		isbn TEXT,
		isbn13 TEXT,
		language_code TEXT NOT NULL DEFAULT 'eng',
		num_pages INTEGER,
		ratings_count INTEGER NOT NULL DEFAULT 0,
		text_reviews_count INTEGER NOT NULL DEFAULT 0,
		publication_date DATE,
		publication_year INTEGER,
		publisher TEXT,
		is_available BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS books_year_idx ON library_books (publication_year)`,
	`CREATE INDEX IF NOT EXISTS books_search_idx ON library_books
		USING GIN (to_tsvector('english', title || ' ' || authors || ' ' || COALESCE(publisher, '')))`,
	`CREATE TABLE IF NOT EXISTS library_loans (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES library_users (id),
		book_id INTEGER NOT NULL REFERENCES library_books (book_id),
		borrowed_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ,
		returned_date TIMESTAMPTZ,
		is_returned BOOLEAN NOT NULL DEFAULT FALSE,
		user_rating NUMERIC(2,1),
		UNIQUE (user_id, book_id, borrowed_date)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_open_book_idx ON library_loans (book_id) WHERE NOT is_returned`,
	`CREATE INDEX IF NOT EXISTS loans_user_idx ON library_loans (user_id, is_returned)`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		aggregate_id UUID NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data JSONB NOT NULL,
		metadata JSONB,
		version INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (aggregate_id, version)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS library_users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS library_books (
		book_id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		authors TEXT NOT NULL DEFAULT '',
		average_rating REAL,
		isbn TEXT,
		isbn13 TEXT,
		language_code TEXT NOT NULL DEFAULT 'eng',
		num_pages INTEGER,
		ratings_count INTEGER NOT NULL DEFAULT 0,
		text_reviews_count INTEGER NOT NULL DEFAULT 0,
		publication_date DATE,
		publication_year INTEGER,
		publisher TEXT,
		is_available BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS books_year_idx ON library_books (publication_year)`,
	`CREATE TABLE IF NOT EXISTS library_loans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES library_users (id),
		book_id INTEGER NOT NULL REFERENCES library_books (book_id),
		borrowed_date TIMESTAMP NOT NULL,
		due_date TIMESTAMP,
		returned_date TIMESTAMP,
		is_returned BOOLEAN NOT NULL DEFAULT 0,
		user_rating REAL,
		UNIQUE (user_id, book_id, borrowed_date)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_open_book_idx ON library_loans (book_id) WHERE is_returned = 0`,
	`CREATE INDEX IF NOT EXISTS loans_user_idx ON library_loans (user_id, is_returned)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		aggregate_id TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL,
		metadata TEXT,
		version INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (aggregate_id, version)
	)`,
}

// Migrate creates the tables the stores read and write.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	stmts := postgresSchema
	if driver == DriverSQLite {
		stmts = sqliteSchema
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
