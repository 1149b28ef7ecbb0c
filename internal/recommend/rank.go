// internal/recommend/rank.go
package recommend

import (
	"sort"

	"librarium/internal/catalog"
)

// sortScored orders books by tier, rating, popularity and publication year,
// all descending. Undefined ratings and years sort last; book id breaks the
// remaining ties so the order is total.
func sortScored(books []ScoredBook) {
	sort.SliceStable(books, func(i, j int) bool {
		return rankLess(books[i], books[j])
	})
}

func rankLess(a, b ScoredBook) bool {
	if a.Tier != b.Tier {
		return a.Tier > b.Tier
	}
	if c := descNullsLast(ratingKey(a.Book), ratingKey(b.Book)); c != 0 {
		return c < 0
	}
	if a.Popularity != b.Popularity {
		return a.Popularity > b.Popularity
	}
	if c := descNullsLast(yearKey(a.Book), yearKey(b.Book)); c != 0 {
		return c < 0
	}
	return a.Book.BookID < b.Book.BookID
}

// byRatingDesc orders plain books by rating, undefined last, then book id.
func byRatingDesc(books []*catalog.Book) {
	sort.SliceStable(books, func(i, j int) bool {
		if c := descNullsLast(ratingKey(books[i]), ratingKey(books[j])); c != 0 {
			return c < 0
		}
		return books[i].BookID < books[j].BookID
	})
}

// byRatingsCountDesc orders plain books by how often they were rated.
func byRatingsCountDesc(books []*catalog.Book) {
	sort.SliceStable(books, func(i, j int) bool {
		if books[i].RatingsCount != books[j].RatingsCount {
			return books[i].RatingsCount > books[j].RatingsCount
		}
		if c := descNullsLast(ratingKey(books[i]), ratingKey(books[j])); c != 0 {
			return c < 0
		}
		return books[i].BookID < books[j].BookID
	})
}

type sortKey struct {
	value float64
	ok    bool
}

func ratingKey(b *catalog.Book) sortKey {
	r, ok := b.Rating()
	return sortKey{value: r, ok: ok}
}

func yearKey(b *catalog.Book) sortKey {
	if b.PublicationYear == nil {
		return sortKey{}
	}
	return sortKey{value: float64(*b.PublicationYear), ok: true}
}

// descNullsLast returns -1 when a sorts before b, 1 when after, 0 when equal.
func descNullsLast(a, b sortKey) int {
	switch {
	case a.ok && !b.ok:
		return -1
	case !a.ok && b.ok:
		return 1
	case !a.ok && !b.ok:
		return 0
	case a.value > b.value:
		return -1
	case a.value < b.value:
		return 1
	default:
		return 0
	}
}
