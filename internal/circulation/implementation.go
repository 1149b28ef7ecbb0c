// internal/circulation/implementation.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/catalog"
	"librarium/internal/eventstore"
	"librarium/internal/logging"
	"librarium/internal/membership"
	"librarium/internal/metrics"
	"librarium/internal/sqlutil"
)

// Options tunes loan terms and borrow throttling.
type Options struct {
	LoanDays    int
	BorrowRate  float64
	BorrowBurst int
}

// service implements the Service interface.
type service struct {
	db       *sql.DB
	members  membership.Service
	events   *eventstore.EventStore
	loanDays int
	limiter  *userLimiter
	tracer   trace.Tracer
	log      zerolog.Logger
}

// NewService creates a new circulation service instance.
func NewService(db *sql.DB, members membership.Service, events *eventstore.EventStore, opts Options) Service {
	if opts.LoanDays <= 0 {
		opts.LoanDays = 14
	}
	return &service{
		db:       db,
		members:  members,
		events:   events,
		loanDays: opts.LoanDays,
		limiter:  newUserLimiter(opts.BorrowRate, opts.BorrowBurst),
		tracer:   otel.Tracer("librarium/circulation"),
		log:      logging.Component("circulation"),
	}
}

const loanColumns = `l.id, l.user_id, u.username, l.borrowed_date, l.due_date, l.returned_date, l.is_returned, l.user_rating`

// Borrow opens a loan. The availability flip, the loan row and the
// LoanOpened event commit together or not at all.
func (s *service) Borrow(ctx context.Context, username string, bookID int) (loan *Loan, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow",
		trace.WithAttributes(attribute.Int("book.id", bookID)),
	)
	defer span.End()
	defer func() {
		metrics.ObserveLoan("borrow", err)
		if err != nil {
			span.RecordError(err)
		}
	}()

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, membership.ErrInvalidUsername
	}
	if !s.limiter.allow(username) {
		return nil, ErrRateLimited
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := s.members.Ensure(ctx, tx, username)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE library_books
		SET is_available = FALSE
		WHERE book_id = $1 AND is_available = TRUE
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve book: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve book: %w", err)
	}
	if n != 1 {
		return nil, missingBook(ctx, tx, bookID, ErrBookUnavailable)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	loan = &Loan{
		ID:           uuid.New(),
		UserID:       user.ID,
		Username:     user.Username,
		BookID:       bookID,
		BorrowedDate: now,
		DueDate:      now.AddDate(0, 0, s.loanDays),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO library_loans (id, user_id, book_id, borrowed_date, due_date, is_returned)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`, loan.ID, loan.UserID, loan.BookID, loan.BorrowedDate, loan.DueDate)
	if err != nil {
		if sqlutil.IsUniqueViolation(err) {
			return nil, fmt.Errorf("book %d: %w", bookID, ErrBookUnavailable)
		}
		return nil, fmt.Errorf("failed to insert loan: %w", err)
	}

	event, err := eventstore.NewEvent(EventLoanOpened, LoanOpenedEvent{
		LoanID:  loan.ID,
		UserID:  loan.UserID,
		BookID:  loan.BookID,
		DueDate: loan.DueDate,
	})
	if err != nil {
		return nil, err
	}
	event.Metadata = map[string]any{"username": loan.Username}
	if err := s.events.AppendEventsTx(ctx, tx, loan.ID, loanAggregate, 0, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit borrow: %w", err)
	}

	s.log.Info().
		Str("username", loan.Username).
		Int("book_id", bookID).
		Str("loan_id", loan.ID.String()).
		Time("due_date", loan.DueDate).
		Msg("book borrowed")
	return loan, nil
}

// missingBook returns ErrBookNotFound when bookID is not in the catalog and
// fallback otherwise.
func missingBook(ctx context.Context, tx *sql.Tx, bookID int, fallback error) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM library_books WHERE book_id = $1`, bookID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("book %d: %w", bookID, catalog.ErrBookNotFound)
	case err != nil:
		return fmt.Errorf("failed to look up book: %w", err)
	default:
		return fmt.Errorf("book %d: %w", bookID, fallback)
	}
}

// Return closes the open loan of a book and puts the book back on the shelf.
func (s *service) Return(ctx context.Context, bookID int, rating string) (loan *Loan, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.Int("book.id", bookID)),
	)
	defer span.End()
	defer func() {
		metrics.ObserveLoan("return", err)
		if err != nil {
			span.RecordError(err)
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan = &Loan{BookID: bookID}
	err = tx.QueryRowContext(ctx, `
		SELECT l.id, l.user_id, u.username, l.borrowed_date, l.due_date
		FROM library_loans l
		JOIN library_users u ON u.id = l.user_id
		WHERE l.book_id = $1 AND l.is_returned = FALSE
	`, bookID).Scan(&loan.ID, &loan.UserID, &loan.Username, &loan.BorrowedDate, &loan.DueDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missingBook(ctx, tx, bookID, ErrNoActiveLoan)
		}
		return nil, fmt.Errorf("failed to find loan: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	loan.ReturnedDate = &now
	loan.IsReturned = true
	loan.UserRating = parseUserRating(rating)

	res, err := tx.ExecContext(ctx, `
		UPDATE library_loans
		SET is_returned = TRUE, returned_date = $1, user_rating = $2
		WHERE id = $3 AND is_returned = FALSE
	`, now, loan.UserRating, loan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to close loan: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to close loan: %w", err)
	} else if n != 1 {
		return nil, fmt.Errorf("book %d: %w", bookID, ErrNoActiveLoan)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE library_books SET is_available = TRUE WHERE book_id = $1`, bookID); err != nil {
		return nil, fmt.Errorf("failed to release book: %w", err)
	}

	version, err := s.events.CurrentVersionTx(ctx, tx, loan.ID)
	if err != nil {
		return nil, err
	}
	event, err := eventstore.NewEvent(EventLoanReturned, LoanReturnedEvent{
		LoanID:       loan.ID,
		UserID:       loan.UserID,
		BookID:       bookID,
		ReturnedDate: now,
		UserRating:   loan.UserRating,
	})
	if err != nil {
		return nil, err
	}
	if err := s.events.AppendEventsTx(ctx, tx, loan.ID, loanAggregate, version, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit return: %w", err)
	}

	logEvent := s.log.Info().
		Str("username", loan.Username).
		Int("book_id", bookID).
		Str("loan_id", loan.ID.String())
	if loan.UserRating != nil {
		logEvent = logEvent.Float64("user_rating", *loan.UserRating)
	}
	logEvent.Msg("book returned")
	return loan, nil
}

func (s *service) LoanEvents(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	events, err := s.events.LoadEvents(ctx, loanID, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan events: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("loan %s: %w", loanID, ErrLoanNotFound)
	}
	return events, nil
}

// parseUserRating keeps a rating only when it is a number in [0, 5],
// rounded to one decimal.
func parseUserRating(s string) *float64 {
	v, ok := catalog.ParseRating(s)
	if !ok || v < 0 || v > 5 {
		return nil
	}
	v = math.Round(v*10) / 10
	return &v
}

// ActiveLoans lists every open loan, most recent first.
func (s *service) ActiveLoans(ctx context.Context) ([]*Loan, error) {
	loans, err := s.queryLoans(ctx, `WHERE l.is_returned = FALSE ORDER BY l.borrowed_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active loans: %w", err)
	}
	return loans, nil
}

// Dashboard builds the reading summary of a user.
func (s *service) Dashboard(ctx context.Context, username, ratingFilter string) (*Dashboard, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.dashboard")
	defer span.End()

	user, err := s.members.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}

	loans, err := s.queryLoans(ctx, `WHERE l.user_id = $1 ORDER BY l.borrowed_date DESC`, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}

	d := &Dashboard{
		Username:     user.Username,
		CurrentLoans: []*Loan{},
		History:      []*Loan{},
	}
	var returned []*Loan
	for _, l := range loans {
		if l.IsReturned {
			returned = append(returned, l)
		} else {
			d.CurrentLoans = append(d.CurrentLoans, l)
		}
	}
	sort.SliceStable(returned, func(i, j int) bool {
		return returnedAt(returned[i]).After(returnedAt(returned[j]))
	})

	d.TotalRead = len(returned)
	if v, ok := catalog.ParseRating(ratingFilter); ok {
		d.RatingFilter = &v
		for _, l := range returned {
			if l.UserRating != nil && *l.UserRating >= v {
				d.History = append(d.History, l)
			}
		}
	} else {
		d.History = append(d.History, returned...)
	}

	var sum float64
	var rated int
	for _, l := range d.History {
		if l.UserRating != nil {
			sum += *l.UserRating
			rated++
		}
	}
	if rated > 0 {
		avg := sum / float64(rated)
		d.AverageUserRating = &avg
	}

	authors := newTally[string]()
	publishers := newTally[string]()
	years := newTally[int]()
	for _, l := range returned {
		if l.Book == nil {
			continue
		}
		if list := l.Book.AuthorList(); len(list) > 0 {
			authors.add(list[0])
		}
		if p := l.Book.PublisherName(); p != "" {
			publishers.add(p)
		}
		if y := l.Book.Year(); y != 0 {
			years.add(y)
		}
		if l.Book.NumPages != nil {
			d.TotalPages += *l.Book.NumPages
		}
	}
	d.FavoriteAuthor = authors.top()
	d.FavoritePublisher = publishers.top()
	d.MostReadYear = years.top()

	span.SetAttributes(
		attribute.Int("loans.current", len(d.CurrentLoans)),
		attribute.Int("loans.returned", d.TotalRead),
	)
	return d, nil
}

func returnedAt(l *Loan) time.Time {
	if l.ReturnedDate == nil {
		return time.Time{}
	}
	return *l.ReturnedDate
}

// tally counts values and remembers the order they were first seen in.
type tally[T comparable] struct {
	counts map[T]int
	order  []T
}

func newTally[T comparable]() *tally[T] {
	return &tally[T]{counts: make(map[T]int)}
}

func (t *tally[T]) add(v T) {
	if _, ok := t.counts[v]; !ok {
		t.order = append(t.order, v)
	}
	t.counts[v]++
}

// top returns the most frequent value; ties go to the value seen first.
func (t *tally[T]) top() *Favorite[T] {
	var best *Favorite[T]
	for _, v := range t.order {
		if best == nil || t.counts[v] > best.Count {
			best = &Favorite[T]{Value: v, Count: t.counts[v]}
		}
	}
	return best
}

func (s *service) queryLoans(ctx context.Context, tail string, args ...any) ([]*Loan, error) {
	query := `SELECT ` + catalog.QualifiedBookColumns("b") + `, ` + loanColumns + `
		FROM library_loans l
		JOIN library_books b ON b.book_id = l.book_id
		JOIN library_users u ON u.id = l.user_id
		` + tail

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := make([]*Loan, 0)
	for rows.Next() {
		var (
			l        Loan
			due      sql.NullTime
			returned sql.NullTime
			rating   sql.NullFloat64
		)
		book, err := catalog.ScanBook(rows,
			&l.ID, &l.UserID, &l.Username, &l.BorrowedDate, &due, &returned, &l.IsReturned, &rating)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		l.Book = book
		l.BookID = book.BookID
		if due.Valid {
			l.DueDate = due.Time
		}
		if returned.Valid {
			l.ReturnedDate = &returned.Time
		}
		if rating.Valid {
			l.UserRating = &rating.Float64
		}
		loans = append(loans, &l)
	}
	return loans, rows.Err()
}
