// internal/recommend/domain.go
package recommend

import (
	"errors"

	"github.com/google/uuid"

	"librarium/internal/catalog"
	"librarium/internal/membership"
)

var (
	// ErrUserNotFound is returned for usernames that do not resolve to a user.
	ErrUserNotFound = membership.ErrUserNotFound
	// ErrNoHistory is returned by Categorized for users without loans.
	ErrNoHistory = errors.New("user has no loan history")
)

// Mode tells how a recommendation list was produced.
type Mode string

const (
	ModeColdStart    Mode = "cold_start"
	ModePersonalized Mode = "personalized"
)

// Assembly branches, reported for observability.
const (
	BranchColdStart = "cold_start"
	BranchDense     = "dense"
	BranchSparse    = "sparse"
)

// Tiers, highest relevance first.
const (
	TierAuthorAndPublisher = 4
	TierAuthor             = 3
	TierPublisher          = 2
	TierRating             = 1
	TierNone               = 0
)

// LoanRecord is one loan of the user, active or returned, with its book.
type LoanRecord struct {
	LoanID     uuid.UUID
	Book       *catalog.Book
	IsReturned bool
	UserRating *float64
}

// TasteProfile is what a user's loans say about their taste.
type TasteProfile struct {
	// KnownAuthors and KnownPublishers keep first-seen order with exact duplicates removed.
	KnownAuthors         []string
	KnownPublishers      []string
	AverageEnjoyedRating float64
	ReadBookIDs          map[int]struct{}
	TotalLoans           int
	ActiveLoans          int
}

// HasRead reports whether the user ever borrowed bookID.
func (p *TasteProfile) HasRead(bookID int) bool {
	_, ok := p.ReadBookIDs[bookID]
	return ok
}

// ScoredBook is a recommended book with the tier it resolved to.
type ScoredBook struct {
	Book         *catalog.Book `json:"book"`
	Tier         int           `json:"tier"`
	Popularity   int           `json:"popularity"`
	Supplemental bool          `json:"supplemental,omitempty"`
}

// ProfileSummary is the user-facing digest of a TasteProfile.
type ProfileSummary struct {
	KnownAuthors         []string `json:"known_authors"`
	KnownPublishers      []string `json:"known_publishers"`
	AverageEnjoyedRating float64  `json:"average_enjoyed_rating"`
	TotalRead            int      `json:"total_read"`
	ActiveLoans          int      `json:"active_loans"`
	ReturnedLoans        int      `json:"returned_loans"`
	PriorityCount        int      `json:"priority_count"`
}

// Result is an ordered recommendation list. Callers must not re-rank Books.
type Result struct {
	Username string          `json:"username"`
	Mode     Mode            `json:"mode"`
	Branch   string          `json:"branch"`
	Books    []ScoredBook    `json:"books"`
	Profile  *ProfileSummary `json:"profile_summary,omitempty"`
}

// CategoryMetadata describes the profile behind a Categories response.
type CategoryMetadata struct {
	FavoriteAuthors    []string `json:"favorite_authors"`
	FavoritePublishers []string `json:"favorite_publishers"`
	AverageRating      float64  `json:"avg_rating"`
	TotalBooksRead     int      `json:"total_books_read"`
}

// Categories groups candidates by why they match.
type Categories struct {
	SameAuthorAndPublisher []*catalog.Book  `json:"same_author_and_publisher"`
	SameAuthor             []*catalog.Book  `json:"same_author"`
	SamePublisher          []*catalog.Book  `json:"same_publisher"`
	SimilarRating          []*catalog.Book  `json:"similar_rating"`
	Metadata               CategoryMetadata `json:"metadata"`
}
