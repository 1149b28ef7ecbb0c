package recommend

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"librarium/internal/catalog"
	"librarium/internal/membership"
)

// memStore is an in-memory UserLookup, LoanHistoryReader and CatalogReader.
type memStore struct {
	users  map[string]*membership.User
	loans  map[uuid.UUID][]LoanRecord
	books  []*catalog.Book
	byID   map[int]*catalog.Book
	counts map[int]int
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]*membership.User),
		loans:  make(map[uuid.UUID][]LoanRecord),
		byID:   make(map[int]*catalog.Book),
		counts: make(map[int]int),
	}
}

func f64(v float64) *float64 { return &v }
func str(s string) *string   { return &s }
func year(y int) *int        { return &y }

type bookOpt func(*catalog.Book)

func rated(v float64) bookOpt      { return func(b *catalog.Book) { b.AverageRating = f64(v) } }
func publishedBy(p string) bookOpt { return func(b *catalog.Book) { b.Publisher = str(p) } }
func ratingsCount(n int) bookOpt   { return func(b *catalog.Book) { b.RatingsCount = n } }
func publishedIn(y int) bookOpt    { return func(b *catalog.Book) { b.PublicationYear = year(y) } }
func unavailable() bookOpt         { return func(b *catalog.Book) { b.IsAvailable = false } }

func (m *memStore) addBook(id int, authors string, opts ...bookOpt) *catalog.Book {
	b := &catalog.Book{BookID: id, Title: fmt.Sprintf("Book %d", id), Authors: authors, IsAvailable: true}
	for _, o := range opts {
		o(b)
	}
	m.books = append(m.books, b)
	m.byID[id] = b
	return b
}

func (m *memStore) addUser(username string) *membership.User {
	u := &membership.User{ID: uuid.New(), Username: username}
	m.users[username] = u
	return u
}

// lend records a loan. Active loans take the book off the shelf.
func (m *memStore) lend(u *membership.User, bookID int, returned bool) {
	b := m.byID[bookID]
	m.loans[u.ID] = append(m.loans[u.ID], LoanRecord{LoanID: uuid.New(), Book: b, IsReturned: returned})
	m.counts[bookID]++
	if !returned {
		b.IsAvailable = false
	}
}

func (m *memStore) GetByUsername(_ context.Context, username string) (*membership.User, error) {
	u, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, membership.ErrUserNotFound)
	}
	return u, nil
}

func (m *memStore) LoansForUser(_ context.Context, userID uuid.UUID) ([]LoanRecord, error) {
	return m.loans[userID], nil
}

func (m *memStore) AvailableBooks(context.Context) ([]*catalog.Book, error) {
	var out []*catalog.Book
	for _, b := range m.books {
		if b.IsAvailable {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) LoanCounts(context.Context) (map[int]int, error) {
	out := make(map[int]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) TopRated(ctx context.Context, limit int) ([]*catalog.Book, error) {
	books, _ := m.AvailableBooks(ctx)
	sort.SliceStable(books, func(i, j int) bool {
		if c := descNullsLast(ratingKey(books[i]), ratingKey(books[j])); c != 0 {
			return c < 0
		}
		if books[i].RatingsCount != books[j].RatingsCount {
			return books[i].RatingsCount > books[j].RatingsCount
		}
		return books[i].BookID < books[j].BookID
	})
	if len(books) > limit {
		books = books[:limit]
	}
	return books, nil
}

func (m *memStore) Supplemental(ctx context.Context, minRating float64, exclude map[int]struct{}, limit int) ([]*catalog.Book, error) {
	books, _ := m.AvailableBooks(ctx)
	var eligible []*catalog.Book
	for _, b := range books {
		if r, ok := b.Rating(); ok && r >= minRating {
			if _, skip := exclude[b.BookID]; !skip {
				eligible = append(eligible, b)
			}
		}
	}
	byRatingsCountDesc(eligible)
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (m *memStore) engine() *Engine {
	return NewEngine(m, m, m, DefaultOptions())
}

func bookIDs(books []ScoredBook) []int {
	out := make([]int, 0, len(books))
	for _, b := range books {
		out = append(out, b.Book.BookID)
	}
	return out
}
