// internal/recommend/scorer.go
package recommend

import (
	"strings"

	"librarium/internal/catalog"
)

// ratingEpsilon absorbs float error at the window edges. Catalog ratings have
// two decimals.
const ratingEpsilon = 1e-9

// Match records which taste predicates a book satisfies.
type Match struct {
	Author    bool
	Publisher bool
	Rating    bool
}

// Tier folds a Match into a tier. Rules are checked in priority order and the
// first one that holds wins.
func (m Match) Tier() int {
	switch {
	case m.Author && m.Publisher:
		return TierAuthorAndPublisher
	case m.Author:
		return TierAuthor
	case m.Publisher:
		return TierPublisher
	case m.Rating:
		return TierRating
	default:
		return TierNone
	}
}

// Scorer evaluates candidate books against one TasteProfile.
type Scorer struct {
	authors    []string
	publishers map[string]struct{}
	low, high  float64
}

// NewScorer lowercases the profile once so that matching is case-insensitive.
func NewScorer(p *TasteProfile, ratingWindow float64) *Scorer {
	s := &Scorer{
		authors:    make([]string, 0, len(p.KnownAuthors)),
		publishers: make(map[string]struct{}, len(p.KnownPublishers)),
		low:        p.AverageEnjoyedRating - ratingWindow - ratingEpsilon,
		high:       p.AverageEnjoyedRating + ratingWindow + ratingEpsilon,
	}
	for _, a := range p.KnownAuthors {
		if a = strings.ToLower(a); a != "" {
			s.authors = append(s.authors, a)
		}
	}
	for _, pub := range p.KnownPublishers {
		s.publishers[strings.ToLower(pub)] = struct{}{}
	}
	return s
}

// Match evaluates the author, publisher and rating predicates. A known
// author matches when it is a substring of the book's authors field.
func (s *Scorer) Match(b *catalog.Book) Match {
	var m Match

	authors := strings.ToLower(b.Authors)
	for _, a := range s.authors {
		if strings.Contains(authors, a) {
			m.Author = true
			break
		}
	}

	if pub := b.PublisherName(); pub != "" {
		_, m.Publisher = s.publishers[strings.ToLower(pub)]
	}

	if r, ok := b.Rating(); ok {
		m.Rating = r >= s.low && r <= s.high
	}
	return m
}

// Tier is shorthand for Match(b).Tier().
func (s *Scorer) Tier(b *catalog.Book) int {
	return s.Match(b).Tier()
}
