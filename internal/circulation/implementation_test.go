package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/catalog"
	"librarium/internal/eventstore"
	"librarium/internal/membership"
	"librarium/internal/testdb"
)

type fixture struct {
	db      *sql.DB
	svc     Service
	members membership.Service
}

func newFixture(t *testing.T, db *sql.DB, opts Options) *fixture {
	t.Helper()
	for id := 1; id <= 3; id++ {
		testdb.InsertBook(t, db, testdb.Book{BookID: id, Authors: "Someone", Available: true})
	}
	members := membership.NewService(db)
	return &fixture{
		db:      db,
		svc:     NewService(db, members, eventstore.NewEventStore(db), opts),
		members: members,
	}
}

func (f *fixture) available(t *testing.T, bookID int) bool {
	t.Helper()
	var ok bool
	require.NoError(t, f.db.QueryRow(`SELECT is_available FROM library_books WHERE book_id = $1`, bookID).Scan(&ok))
	return ok
}

func TestBorrowAndReturn(t *testing.T) {
	f := newFixture(t, testdb.SQLite(t), Options{LoanDays: 21})
	ctx := context.Background()

	loan, err := f.svc.Borrow(ctx, "  alice ", 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", loan.Username)
	assert.Equal(t, 1, loan.BookID)
	assert.False(t, loan.IsReturned)
	assert.WithinDuration(t, loan.BorrowedDate.AddDate(0, 0, 21), loan.DueDate, time.Second)
	assert.False(t, f.available(t, 1))

	_, err = f.svc.Borrow(ctx, "bob", 1)
	assert.ErrorIs(t, err, ErrBookUnavailable)

	returned, err := f.svc.Return(ctx, 1, "4.5")
	require.NoError(t, err)
	assert.Equal(t, loan.ID, returned.ID)
	assert.True(t, returned.IsReturned)
	require.NotNil(t, returned.UserRating)
	assert.InDelta(t, 4.5, *returned.UserRating, 1e-9)
	assert.True(t, f.available(t, 1))

	_, err = f.svc.Return(ctx, 1, "")
	assert.ErrorIs(t, err, ErrNoActiveLoan)

	history, err := f.svc.LoanEvents(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, EventLoanOpened, history[0].EventType)
	assert.Equal(t, "alice", history[0].Metadata["username"])
	assert.Equal(t, EventLoanReturned, history[1].EventType)
	assert.Equal(t, 2, history[1].Version)

	_, err = f.svc.LoanEvents(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)

	// The book can circulate again.
	_, err = f.svc.Borrow(ctx, "bob", 1)
	assert.NoError(t, err)
}

func TestBorrowErrors(t *testing.T) {
	f := newFixture(t, testdb.SQLite(t), Options{})
	ctx := context.Background()

	_, err := f.svc.Borrow(ctx, "   ", 1)
	assert.ErrorIs(t, err, membership.ErrInvalidUsername)

	_, err = f.svc.Borrow(ctx, "carol", 99)
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)

	// The failed borrow rolled back the user it created.
	_, err = f.members.GetByUsername(ctx, "carol")
	assert.ErrorIs(t, err, membership.ErrUserNotFound)
}

func TestReturnUnknownBook(t *testing.T) {
	f := newFixture(t, testdb.SQLite(t), Options{})
	ctx := context.Background()

	_, err := f.svc.Return(ctx, 99, "4")
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)

	// A catalogued book without an open loan is a conflict, not a miss.
	_, err = f.svc.Return(ctx, 1, "4")
	assert.ErrorIs(t, err, ErrNoActiveLoan)
	assert.NotErrorIs(t, err, catalog.ErrBookNotFound)
}

func TestReturnIgnoresInvalidRating(t *testing.T) {
	f := newFixture(t, testdb.SQLite(t), Options{})
	ctx := context.Background()

	for _, rating := range []string{"", "abc", "7", "-1", "NaN"} {
		t.Run(fmt.Sprintf("rating %q", rating), func(t *testing.T) {
			_, err := f.svc.Borrow(ctx, "dave", 2)
			require.NoError(t, err)
			loan, err := f.svc.Return(ctx, 2, rating)
			require.NoError(t, err)
			assert.Nil(t, loan.UserRating)
		})
	}
}

func TestParseUserRating(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"0", testdb.Rating(0)},
		{"5", testdb.Rating(5)},
		{"3.46", testdb.Rating(3.5)},
		{"5.01", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := parseUserRating(tt.in)
		if tt.want == nil {
			assert.Nil(t, got, tt.in)
			continue
		}
		require.NotNil(t, got, tt.in)
		assert.InDelta(t, *tt.want, *got, 1e-9, tt.in)
	}
}

func TestBorrowRateLimited(t *testing.T) {
	f := newFixture(t, testdb.SQLite(t), Options{BorrowRate: 0.001, BorrowBurst: 1})
	ctx := context.Background()

	_, err := f.svc.Borrow(ctx, "erin", 1)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, "erin", 2)
	assert.ErrorIs(t, err, ErrRateLimited)

	// Buckets are per user.
	_, err = f.svc.Borrow(ctx, "frank", 2)
	assert.NoError(t, err)
}

func concurrentBorrow(t *testing.T, f *fixture) {
	t.Helper()
	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Borrow(context.Background(), fmt.Sprintf("user%d", i), 3)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range others {
		assert.True(t, errors.Is(err, ErrBookUnavailable), "unexpected error: %v", err)
	}

	loans, err := f.svc.ActiveLoans(context.Background())
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, 3, loans[0].BookID)
}

func TestConcurrentBorrowSQLite(t *testing.T) {
	concurrentBorrow(t, newFixture(t, testdb.SQLite(t), Options{}))
}

func TestConcurrentBorrowPostgres(t *testing.T) {
	concurrentBorrow(t, newFixture(t, testdb.Postgres(t), Options{}))
}

// A new borrower's first loans race to create the same user row.
func concurrentFirstBorrows(t *testing.T, f *fixture) {
	t.Helper()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Borrow(context.Background(), "newcomer", i+1)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "borrow of book %d", i+1)
	}

	loans, err := f.svc.ActiveLoans(context.Background())
	require.NoError(t, err)
	require.Len(t, loans, 3)
	for _, l := range loans {
		assert.Equal(t, "newcomer", l.Username)
		assert.Equal(t, loans[0].UserID, l.UserID)
	}
}

func TestConcurrentFirstBorrowsSQLite(t *testing.T) {
	concurrentFirstBorrows(t, newFixture(t, testdb.SQLite(t), Options{}))
}

func TestConcurrentFirstBorrowsPostgres(t *testing.T) {
	concurrentFirstBorrows(t, newFixture(t, testdb.Postgres(t), Options{}))
}

func TestActiveLoans(t *testing.T) {
	f := newFixture(t, testdb.SQLite(t), Options{})
	ctx := context.Background()

	_, err := f.svc.Borrow(ctx, "gina", 1)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = f.svc.Borrow(ctx, "hal", 2)
	require.NoError(t, err)

	loans, err := f.svc.ActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, 2, loans[0].BookID)
	assert.Equal(t, "hal", loans[0].Username)
	require.NotNil(t, loans[0].Book)
	assert.Equal(t, "Book 2", loans[0].Book.Title)
	assert.Equal(t, 1, loans[1].BookID)
}

func TestDashboard(t *testing.T) {
	db := testdb.SQLite(t)
	ctx := context.Background()

	books := []testdb.Book{
		{BookID: 1, Authors: "Ann Author, Co Writer", Publisher: testdb.Str("Penguin"), Pages: testdb.Int(100)},
		{BookID: 2, Authors: "Bob Writer", Publisher: testdb.Str("Tor"), Pages: testdb.Int(200), Year: testdb.Int(2001)},
		{BookID: 3, Authors: "Ann Author", Publisher: testdb.Str("Penguin"), Pages: testdb.Int(300), Year: testdb.Int(1999)},
		{BookID: 4, Authors: "Bob Writer", Publisher: testdb.Str("Tor"), Year: testdb.Int(1999)},
	}
	for _, b := range books {
		testdb.InsertBook(t, db, b)
	}
	userID := testdb.InsertUser(t, db, "ivy")

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	day := func(n int) *time.Time {
		v := base.AddDate(0, 0, n)
		return &v
	}
	testdb.InsertLoan(t, db, testdb.Loan{UserID: userID, BookID: 1, BorrowedAt: base, ReturnedAt: day(1), UserRating: testdb.Rating(5)})
	testdb.InsertLoan(t, db, testdb.Loan{UserID: userID, BookID: 2, BorrowedAt: base, ReturnedAt: day(3), UserRating: testdb.Rating(3)})
	testdb.InsertLoan(t, db, testdb.Loan{UserID: userID, BookID: 3, BorrowedAt: base, ReturnedAt: day(2)})
	testdb.InsertLoan(t, db, testdb.Loan{UserID: userID, BookID: 4, BorrowedAt: *day(4)})

	svc := NewService(db, membership.NewService(db), eventstore.NewEventStore(db), Options{})

	t.Run("unfiltered", func(t *testing.T) {
		d, err := svc.Dashboard(ctx, "ivy", "")
		require.NoError(t, err)

		require.Len(t, d.CurrentLoans, 1)
		assert.Equal(t, 4, d.CurrentLoans[0].BookID)

		var history []int
		for _, l := range d.History {
			history = append(history, l.BookID)
		}
		assert.Equal(t, []int{2, 3, 1}, history)
		assert.Equal(t, 3, d.TotalRead)
		require.NotNil(t, d.AverageUserRating)
		assert.InDelta(t, 4.0, *d.AverageUserRating, 1e-9)
		assert.Equal(t, &Favorite[string]{Value: "Ann Author", Count: 2}, d.FavoriteAuthor)
		assert.Equal(t, &Favorite[string]{Value: "Penguin", Count: 2}, d.FavoritePublisher)
		// 2001 and 1999 tie; 2001 is seen first in history order.
		assert.Equal(t, &Favorite[int]{Value: 2001, Count: 1}, d.MostReadYear)
		assert.Equal(t, 600, d.TotalPages)
		assert.Nil(t, d.RatingFilter)
	})

	t.Run("rating filter", func(t *testing.T) {
		d, err := svc.Dashboard(ctx, "ivy", "4")
		require.NoError(t, err)
		require.Len(t, d.History, 1)
		assert.Equal(t, 1, d.History[0].BookID)
		require.NotNil(t, d.AverageUserRating)
		assert.InDelta(t, 5.0, *d.AverageUserRating, 1e-9)
		assert.Equal(t, 3, d.TotalRead)
		require.NotNil(t, d.RatingFilter)
	})

	t.Run("unparsable filter is ignored", func(t *testing.T) {
		d, err := svc.Dashboard(ctx, "ivy", "lots")
		require.NoError(t, err)
		assert.Len(t, d.History, 3)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.Dashboard(ctx, "nobody", "")
		assert.ErrorIs(t, err, membership.ErrUserNotFound)
	})
}

func TestTallyTopPrefersFirstSeen(t *testing.T) {
	tl := newTally[string]()
	assert.Nil(t, tl.top())
	for _, v := range []string{"b", "a", "a", "b", "c"} {
		tl.add(v)
	}
	assert.Equal(t, &Favorite[string]{Value: "b", Count: 2}, tl.top())
}
