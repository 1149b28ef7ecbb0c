package recommend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	genAuthors    = []string{"Ann Lee", "Bo Chen", "Cy Diaz", "ann lee, Di Eto", "Bo Chen, Cy Diaz"}
	genPublishers = []string{"", "Acme", "acme", "Tor", "Orbit"}
)

// genLibrary draws a catalog and a loan history for one reader.
func genLibrary(t *rapid.T) (*memStore, map[int]bool) {
	m := newMemStore()
	n := rapid.IntRange(0, 60).Draw(t, "books")
	for id := 1; id <= n; id++ {
		opts := []bookOpt{ratingsCount(rapid.IntRange(0, 1000).Draw(t, "ratings_count"))}
		if rapid.Bool().Draw(t, "rated") {
			opts = append(opts, rated(float64(rapid.IntRange(0, 500).Draw(t, "rating"))/100))
		}
		if p := rapid.SampledFrom(genPublishers).Draw(t, "publisher"); p != "" {
			opts = append(opts, publishedBy(p))
		}
		if rapid.Bool().Draw(t, "dated") {
			opts = append(opts, publishedIn(rapid.IntRange(1900, 2024).Draw(t, "year")))
		}
		if rapid.IntRange(0, 9).Draw(t, "shelf") == 0 {
			opts = append(opts, unavailable())
		}
		m.addBook(id, rapid.SampledFrom(genAuthors).Draw(t, "authors"), opts...)
	}

	reader := m.addUser("reader")
	read := map[int]bool{}
	if n == 0 {
		return m, read
	}
	loans := rapid.IntRange(0, 12).Draw(t, "loans")
	for i := 0; i < loans; i++ {
		id := rapid.IntRange(1, n).Draw(t, "loan_book")
		returned := !m.byID[id].IsAvailable || rapid.Bool().Draw(t, "returned")
		m.lend(reader, id, returned)
		read[id] = true
	}
	return m, read
}

func TestRecommendProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m, read := genLibrary(t)
		e := m.engine()
		ctx := context.Background()

		res, err := e.Recommend(ctx, "reader")
		require.NoError(t, err)

		if len(read) == 0 {
			require.Equal(t, ModeColdStart, res.Mode)
			require.LessOrEqual(t, len(res.Books), 20)
		} else {
			require.Equal(t, ModePersonalized, res.Mode)
			require.LessOrEqual(t, len(res.Books), 30)
		}

		seen := map[int]bool{}
		for _, b := range res.Books {
			id := b.Book.BookID
			require.True(t, b.Book.IsAvailable, "book %d is on loan", id)
			require.False(t, read[id], "book %d was already read", id)
			require.False(t, seen[id], "book %d listed twice", id)
			seen[id] = true
		}

		switch res.Branch {
		case BranchDense:
			for i := 1; i < len(res.Books); i++ {
				prev, cur := res.Books[i-1], res.Books[i]
				require.GreaterOrEqual(t, prev.Tier, cur.Tier)
				if prev.Tier == cur.Tier {
					require.LessOrEqual(t, descNullsLast(ratingKey(prev.Book), ratingKey(cur.Book)), 0)
				}
			}
		case BranchSparse:
			priority, supplemental := 0, 0
			for _, b := range res.Books {
				if b.Supplemental {
					supplemental++
					r, ok := b.Book.Rating()
					require.True(t, ok)
					require.GreaterOrEqual(t, r, 4.0)
					continue
				}
				require.Zero(t, supplemental, "priority books come first")
				require.GreaterOrEqual(t, b.Tier, TierPublisher)
				priority++
			}
			require.LessOrEqual(t, priority, 15)
			require.LessOrEqual(t, supplemental, 15)
		}

		again, err := e.Recommend(ctx, "reader")
		require.NoError(t, err)
		require.Equal(t, res, again)
	})
}

func TestScorerTierMatchesPredicates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m, _ := genLibrary(t)
		history, _ := m.LoansForUser(context.Background(), m.users["reader"].ID)
		profile := ExtractProfile(history, 3.5)
		s := NewScorer(profile, 0.5)

		for _, b := range m.books {
			match := s.Match(b)
			tier := s.Tier(b)
			require.Equal(t, match.Author && match.Publisher, tier == TierAuthorAndPublisher)
			require.Equal(t, !match.Author && !match.Publisher && !match.Rating, tier == TierNone)
			if r, ok := b.Rating(); match.Rating {
				require.True(t, ok)
				require.InDelta(t, profile.AverageEnjoyedRating, r, 0.5+1e-6)
			}
		}
	})
}
