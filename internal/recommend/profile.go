// internal/recommend/profile.go
package recommend

import (
	"sort"
	"strings"
)

// ExtractProfile derives a TasteProfile from every loan of a user. The
// average is taken over the books' catalog ratings, one sample per loan, and
// falls back to defaultRating when none of the books is rated.
func ExtractProfile(loans []LoanRecord, defaultRating float64) *TasteProfile {
	p := &TasteProfile{
		ReadBookIDs:          make(map[int]struct{}, len(loans)),
		AverageEnjoyedRating: defaultRating,
		TotalLoans:           len(loans),
	}

	seenAuthors := make(map[string]struct{})
	seenPublishers := make(map[string]struct{})
	var sum float64
	var rated int

	for _, l := range loans {
		if !l.IsReturned {
			p.ActiveLoans++
		}
		b := l.Book
		if b == nil {
			continue
		}
		p.ReadBookIDs[b.BookID] = struct{}{}

		for _, a := range b.AuthorList() {
			if _, ok := seenAuthors[a]; !ok {
				seenAuthors[a] = struct{}{}
				p.KnownAuthors = append(p.KnownAuthors, a)
			}
		}
		if pub := b.PublisherName(); pub != "" {
			if _, ok := seenPublishers[pub]; !ok {
				seenPublishers[pub] = struct{}{}
				p.KnownPublishers = append(p.KnownPublishers, pub)
			}
		}
		if r, ok := b.Rating(); ok {
			sum += r
			rated++
		}
	}

	if rated > 0 {
		p.AverageEnjoyedRating = sum / float64(rated)
	}
	return p
}

// Summary digests the profile, keeping at most maxAuthors and maxPublishers
// names in case-insensitive order.
func (p *TasteProfile) Summary(maxAuthors, maxPublishers int) *ProfileSummary {
	return &ProfileSummary{
		KnownAuthors:         firstSorted(p.KnownAuthors, maxAuthors),
		KnownPublishers:      firstSorted(p.KnownPublishers, maxPublishers),
		AverageEnjoyedRating: p.AverageEnjoyedRating,
		TotalRead:            p.TotalLoans,
		ActiveLoans:          p.ActiveLoans,
		ReturnedLoans:        p.TotalLoans - p.ActiveLoans,
	}
}

func firstSorted(names []string, n int) []string {
	out := append([]string(nil), names...)
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i]), strings.ToLower(out[j])
		if li != lj {
			return li < lj
		}
		return out[i] < out[j]
	})
	if len(out) > n {
		out = out[:n]
	}
	if out == nil {
		out = []string{}
	}
	return out
}
