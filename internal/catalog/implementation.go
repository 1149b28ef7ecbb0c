// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/sqlutil"
)

const (
	featuredLimit = 20
	searchLimit   = 50
	minSearchRank = 0.01
)

// BookColumns is the column list ScanBook expects, in order.
const BookColumns = `book_id, title, authors, average_rating, isbn, isbn13, language_code, num_pages,
	ratings_count, text_reviews_count, publication_date, publication_year, publisher, is_available`

// QualifiedBookColumns is BookColumns prefixed with a table alias, for joins.
func QualifiedBookColumns(alias string) string {
	cols := strings.Split(BookColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// searchDocument is the text the full-text oracle indexes.
const searchDocument = `to_tsvector('english', title || ' ' || authors || ' ' || COALESCE(publisher, ''))`

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanBook reads one row selected with BookColumns.
func ScanBook(row RowScanner, extra ...any) (*Book, error) {
	var (
		b         Book
		rating    sql.NullFloat64
		isbn      sql.NullString
		isbn13    sql.NullString
		lang      sql.NullString
		pages     sql.NullInt64
		pubDate   sql.NullTime
		pubYear   sql.NullInt64
		publisher sql.NullString
	)
	dest := []any{
		&b.BookID, &b.Title, &b.Authors, &rating, &isbn, &isbn13, &lang, &pages,
		&b.RatingsCount, &b.TextReviewsCount, &pubDate, &pubYear, &publisher, &b.IsAvailable,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if rating.Valid {
		b.AverageRating = &rating.Float64
	}
	b.ISBN = isbn.String
	b.ISBN13 = isbn13.String
	b.LanguageCode = lang.String
	if pages.Valid {
		n := int(pages.Int64)
		b.NumPages = &n
	}
	if pubDate.Valid {
		b.PublicationDate = &pubDate.Time
	}
	if pubYear.Valid {
		y := int(pubYear.Int64)
		b.PublicationYear = &y
	}
	if publisher.Valid {
		b.Publisher = &publisher.String
	}
	return &b, nil
}

// ParseRating parses an optional rating threshold. Anything that is not a
// finite number reports ok=false and the caller drops the filter.
func ParseRating(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// service implements the Service interface.
type service struct {
	db     *sql.DB
	driver string
	tracer trace.Tracer
}

// NewService creates a new catalog service instance.
func NewService(db *sql.DB, driver string) Service {
	return &service{
		db:     db,
		driver: driver,
		tracer: otel.Tracer("librarium/catalog"),
	}
}

// GetBook retrieves a book by its business key.
func (s *service) GetBook(ctx context.Context, bookID int) (*Book, error) {
	query := `SELECT ` + BookColumns + ` FROM library_books WHERE book_id = $1`
	book, err := ScanBook(s.db.QueryRowContext(ctx, query, bookID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book %d: %w", bookID, ErrBookNotFound)
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// Search applies the text query and filters. Without any of them it returns
// the featured shelf: the best rated available books.
func (s *service) Search(ctx context.Context, filter Filter) ([]*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.search",
		trace.WithAttributes(
			attribute.Bool("query.present", filter.Query != ""),
			attribute.Bool("filters.active", filter.Active()),
		),
	)
	defer span.End()

	q := &queryBuilder{}
	orderBy := "average_rating DESC NULLS LAST, book_id ASC"
	limit := searchLimit

	if text := strings.TrimSpace(filter.Query); text != "" {
		if s.driver == sqlutil.DriverPostgres {
			p := q.arg(text)
			rank := fmt.Sprintf("ts_rank(%s, plainto_tsquery('english', %s))", searchDocument, p)
			q.where(fmt.Sprintf("%s >= %v", rank, minSearchRank))
			orderBy = rank + " DESC, book_id ASC"
		} else {
			p := q.arg("%" + text + "%")
			q.where(fmt.Sprintf("(title LIKE %[1]s OR authors LIKE %[1]s OR publisher LIKE %[1]s)", p))
		}
	}

	if filter.Publisher != "" {
		q.where("LOWER(publisher) = LOWER(" + q.arg(filter.Publisher) + ")")
	}

	if filter.MinRating != "" {
		if v, ok := ParseRating(filter.MinRating); ok {
			q.where("average_rating >= " + q.arg(v))
		}
	}

	switch filter.Availability {
	case AvailabilityAvailable:
		q.where("is_available = TRUE")
	case AvailabilityBorrowed:
		q.where("is_available = FALSE")
	}

	switch filter.Pages {
	case PagesShort:
		q.where("num_pages IS NOT NULL AND num_pages < 200")
	case PagesMedium:
		q.where("num_pages >= 200 AND num_pages <= 400")
	case PagesLong:
		q.where("num_pages > 400")
	}

	if filter.Query == "" && !filter.Active() {
		q.where("is_available = TRUE")
		limit = featuredLimit
	}

	query := `SELECT ` + BookColumns + ` FROM library_books` + q.clause() +
		` ORDER BY ` + orderBy + ` LIMIT ` + q.arg(limit)

	books, err := s.queryBooks(ctx, query, q.args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}
	span.SetAttributes(attribute.Int("results", len(books)))
	return books, nil
}

// Publishers returns the most common publishers.
func (s *service) Publishers(ctx context.Context, limit int) ([]PublisherCount, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT publisher, COUNT(*)
		FROM library_books
		WHERE publisher IS NOT NULL AND publisher <> ''
		GROUP BY publisher
		ORDER BY COUNT(*) DESC, publisher ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list publishers: %w", err)
	}
	defer rows.Close()

	var out []PublisherCount
	for rows.Next() {
		var pc PublisherCount
		if err := rows.Scan(&pc.Publisher, &pc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan publisher: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// BooksByYear lists books published in year, best rated first.
func (s *service) BooksByYear(ctx context.Context, year int) ([]*Book, error) {
	query := `SELECT ` + BookColumns + ` FROM library_books
		WHERE publication_year = $1
		ORDER BY average_rating DESC NULLS LAST, title ASC`
	books, err := s.queryBooks(ctx, query, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list books for %d: %w", year, err)
	}
	return books, nil
}

// Years lists publication years with their book totals, newest first.
func (s *service) Years(ctx context.Context) ([]YearCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT publication_year, COUNT(*)
		FROM library_books
		WHERE publication_year IS NOT NULL
		GROUP BY publication_year
		ORDER BY publication_year DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list years: %w", err)
	}
	defer rows.Close()

	var out []YearCount
	for rows.Next() {
		var yc YearCount
		if err := rows.Scan(&yc.Year, &yc.Total); err != nil {
			return nil, fmt.Errorf("failed to scan year: %w", err)
		}
		out = append(out, yc)
	}
	return out, rows.Err()
}

func (s *service) queryBooks(ctx context.Context, query string, args ...any) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := make([]*Book, 0)
	for rows.Next() {
		b, err := ScanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// queryBuilder numbers placeholders in the order arguments are added, which
// keeps first appearance and argument order aligned for both drivers.
type queryBuilder struct {
	conds []string
	args  []any
}

func (q *queryBuilder) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *queryBuilder) where(cond string) {
	q.conds = append(q.conds, cond)
}

func (q *queryBuilder) clause() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}
