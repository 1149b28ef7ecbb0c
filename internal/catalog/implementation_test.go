package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/sqlutil"
	"librarium/internal/testdb"
)

func seededService(t *testing.T) Service {
	t.Helper()
	db := testdb.SQLite(t)

	books := []testdb.Book{
		{BookID: 1, Title: "The Hobbit", Authors: "J.R.R. Tolkien", Rating: testdb.Rating(4.6), Publisher: testdb.Str("Allen & Unwin"), Pages: testdb.Int(310), RatingsCount: 900, Year: testdb.Int(1937), Available: true},
		{BookID: 2, Title: "Silmarillion", Authors: "J.R.R. Tolkien, Christopher Tolkien", Rating: testdb.Rating(3.9), Publisher: testdb.Str("Allen & Unwin"), Pages: testdb.Int(480), RatingsCount: 300, Year: testdb.Int(1977), Available: false},
		{BookID: 3, Title: "Dune", Authors: "Frank Herbert", Rating: testdb.Rating(4.3), Publisher: testdb.Str("Chilton"), Pages: testdb.Int(412), RatingsCount: 800, Year: testdb.Int(1965), Available: true},
		{BookID: 4, Title: "Pamphlet", Authors: "Anon", Pages: testdb.Int(40), Available: true},
		{BookID: 5, Title: "Unknown Pages", Authors: "Anon", Rating: testdb.Rating(2.0), Publisher: testdb.Str(""), Available: true},
	}
	for _, b := range books {
		testdb.InsertBook(t, db, b)
	}
	return NewService(db, sqlutil.DriverSQLite)
}

func ids(books []*Book) []int {
	out := make([]int, 0, len(books))
	for _, b := range books {
		out = append(out, b.BookID)
	}
	return out
}

func TestGetBook(t *testing.T) {
	svc := seededService(t)

	book, err := svc.GetBook(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Silmarillion", book.Title)
	assert.Equal(t, []string{"J.R.R. Tolkien", "Christopher Tolkien"}, book.AuthorList())
	assert.False(t, book.IsAvailable)
	rating, ok := book.Rating()
	assert.True(t, ok)
	assert.InDelta(t, 3.9, rating, 1e-9)

	_, err = svc.GetBook(context.Background(), 99)
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestSearchFeaturedWithoutFilters(t *testing.T) {
	svc := seededService(t)

	books, err := svc.Search(context.Background(), Filter{})
	require.NoError(t, err)
	// Available only, best rated first, unrated last.
	assert.Equal(t, []int{1, 3, 5, 4}, ids(books))
}

func TestSearchFilters(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   []int
	}{
		{"publisher is case-insensitive exact", Filter{Publisher: "allen & unwin"}, []int{1, 2}},
		{"publisher is not substring", Filter{Publisher: "Allen"}, []int{}},
		{"min rating", Filter{MinRating: "4.0"}, []int{1, 3}},
		{"unparsable min rating is ignored", Filter{MinRating: "abc", Availability: AvailabilityBorrowed}, []int{2}},
		{"short pages", Filter{Pages: PagesShort}, []int{4}},
		{"medium pages", Filter{Pages: PagesMedium}, []int{1}},
		{"long pages", Filter{Pages: PagesLong}, []int{3, 2}},
		{"text query", Filter{Query: "tolkien"}, []int{1, 2}},
		{"text query with availability", Filter{Query: "tolkien", Availability: AvailabilityAvailable}, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books, err := svc.Search(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(books))
		})
	}
}

func TestPublishersAndYears(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	pubs, err := svc.Publishers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	assert.Equal(t, PublisherCount{Publisher: "Allen & Unwin", Count: 2}, pubs[0])
	assert.Equal(t, PublisherCount{Publisher: "Chilton", Count: 1}, pubs[1])

	years, err := svc.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []YearCount{{Year: 1977, Total: 1}, {Year: 1965, Total: 1}, {Year: 1937, Total: 1}}, years)

	books, err := svc.BooksByYear(ctx, 1965)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, ids(books))
}

func TestParseRating(t *testing.T) {
	v, ok := ParseRating(" 3.5 ")
	assert.True(t, ok)
	assert.InDelta(t, 3.5, v, 1e-9)

	for _, bad := range []string{"", "four", "NaN", "Inf"} {
		_, ok := ParseRating(bad)
		assert.False(t, ok, bad)
	}
}

func TestQualifiedBookColumns(t *testing.T) {
	cols := QualifiedBookColumns("b")
	assert.True(t, strings.HasPrefix(cols, "b.book_id, b.title, b.authors"))
	assert.True(t, strings.HasSuffix(cols, "b.publisher, b.is_available"))
	assert.NotContains(t, cols, "\n")
}
