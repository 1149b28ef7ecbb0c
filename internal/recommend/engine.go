// internal/recommend/engine.go
package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/catalog"
	"librarium/internal/logging"
	"librarium/internal/membership"
	"librarium/internal/metrics"
)

const (
	summaryAuthors    = 5
	summaryPublishers = 3
)

// Options are the ranking tunables.
type Options struct {
	ColdStartLimit        int
	PersonalizedLimit     int
	PriorityThreshold     int
	PriorityTier          int
	PriorityTake          int
	SupplementalTake      int
	SupplementalMinRating float64
	RatingWindow          float64
	DefaultRating         float64
}

// DefaultOptions returns the standard ranking parameters.
func DefaultOptions() Options {
	return Options{
		ColdStartLimit:        20,
		PersonalizedLimit:     30,
		PriorityThreshold:     10,
		PriorityTier:          TierPublisher,
		PriorityTake:          15,
		SupplementalTake:      15,
		SupplementalMinRating: 4.0,
		RatingWindow:          0.5,
		DefaultRating:         3.5,
	}
}

// Engine ranks the catalog for a user. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	users  UserLookup
	loans  LoanHistoryReader
	books  CatalogReader
	opts   Options
	tracer trace.Tracer
	log    zerolog.Logger
}

// NewEngine wires an engine to its readers.
func NewEngine(users UserLookup, loans LoanHistoryReader, books CatalogReader, opts Options) *Engine {
	return &Engine{
		users:  users,
		loans:  loans,
		books:  books,
		opts:   opts,
		tracer: otel.Tracer("librarium/recommend"),
		log:    logging.Component("recommend"),
	}
}

// Recommend builds the ordered recommendation list for username. Users
// without any loan get the cold-start list; unknown users get ErrUserNotFound.
func (e *Engine) Recommend(ctx context.Context, username string) (*Result, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "recommend.recommend")
	defer span.End()

	user, history, err := e.history(ctx, username)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var res *Result
	if len(history) == 0 {
		res, err = e.coldStart(ctx)
	} else {
		res, err = e.personalized(ctx, history)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.Username = user.Username

	span.SetAttributes(
		attribute.String("recommend.mode", string(res.Mode)),
		attribute.String("recommend.branch", res.Branch),
		attribute.Int("recommend.results", len(res.Books)),
	)
	metrics.ObserveRecommendation(string(res.Mode), res.Branch, started)

	l := logging.Ctx(ctx, e.log)
	l.Debug().
		Str("username", user.Username).
		Str("mode", string(res.Mode)).
		Str("branch", res.Branch).
		Int("results", len(res.Books)).
		Dur("took", time.Since(started)).
		Msg("recommendations built")
	return res, nil
}

func (e *Engine) history(ctx context.Context, username string) (*membership.User, []LoanRecord, error) {
	user, err := e.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	history, err := e.loans.LoansForUser(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load loan history: %w", err)
	}
	return user, history, nil
}

func (e *Engine) coldStart(ctx context.Context) (*Result, error) {
	books, err := e.books.TopRated(ctx, e.opts.ColdStartLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load top rated books: %w", err)
	}
	counts, err := e.books.LoanCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan counts: %w", err)
	}

	out := make([]ScoredBook, 0, len(books))
	for _, b := range books {
		if !b.IsAvailable {
			continue
		}
		out = append(out, ScoredBook{Book: b, Tier: TierNone, Popularity: counts[b.BookID]})
		if len(out) == e.opts.ColdStartLimit {
			break
		}
	}
	return &Result{Mode: ModeColdStart, Branch: BranchColdStart, Books: out}, nil
}

func (e *Engine) personalized(ctx context.Context, history []LoanRecord) (*Result, error) {
	profile := ExtractProfile(history, e.opts.DefaultRating)
	scorer := NewScorer(profile, e.opts.RatingWindow)

	available, err := e.books.AvailableBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load available books: %w", err)
	}
	counts, err := e.books.LoanCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan counts: %w", err)
	}

	candidates := make([]ScoredBook, 0, len(available))
	seen := make(map[int]struct{}, len(available))
	for _, b := range available {
		if !b.IsAvailable || profile.HasRead(b.BookID) {
			continue
		}
		if _, dup := seen[b.BookID]; dup {
			continue
		}
		seen[b.BookID] = struct{}{}
		candidates = append(candidates, ScoredBook{
			Book:       b,
			Tier:       scorer.Tier(b),
			Popularity: counts[b.BookID],
		})
	}
	sortScored(candidates)
	metrics.RecommendationCandidates.Observe(float64(len(candidates)))

	priority := 0
	for _, c := range candidates {
		if c.Tier >= e.opts.PriorityTier {
			priority++
		}
	}

	l := logging.Ctx(ctx, e.log)
	l.Debug().
		Int("candidates", len(candidates)).
		Int("priority", priority).
		Int("known_authors", len(profile.KnownAuthors)).
		Int("known_publishers", len(profile.KnownPublishers)).
		Msg("candidates scored")

	summary := profile.Summary(summaryAuthors, summaryPublishers)
	summary.PriorityCount = priority
	res := &Result{Mode: ModePersonalized, Profile: summary}

	if priority >= e.opts.PriorityThreshold {
		res.Branch = BranchDense
		res.Books = head(candidates, e.opts.PersonalizedLimit)
		return res, nil
	}

	res.Branch = BranchSparse
	picked := make([]ScoredBook, 0, e.opts.PriorityTake+e.opts.SupplementalTake)
	exclude := make(map[int]struct{}, len(profile.ReadBookIDs)+e.opts.PriorityTake)
	for id := range profile.ReadBookIDs {
		exclude[id] = struct{}{}
	}
	for _, c := range candidates {
		if len(picked) == e.opts.PriorityTake {
			break
		}
		if c.Tier >= e.opts.PriorityTier {
			picked = append(picked, c)
			exclude[c.Book.BookID] = struct{}{}
		}
	}

	extra, err := e.books.Supplemental(ctx, e.opts.SupplementalMinRating, exclude, e.opts.SupplementalTake)
	if err != nil {
		return nil, fmt.Errorf("failed to load supplemental books: %w", err)
	}
	added := 0
	for _, b := range extra {
		if added == e.opts.SupplementalTake {
			break
		}
		if _, skip := exclude[b.BookID]; skip || !b.IsAvailable {
			continue
		}
		exclude[b.BookID] = struct{}{}
		picked = append(picked, ScoredBook{
			Book:         b,
			Tier:         scorer.Tier(b),
			Popularity:   counts[b.BookID],
			Supplemental: true,
		})
		added++
	}
	res.Books = picked
	return res, nil
}

// Categorized groups unread available books by the predicate they match,
// capping each group at perCategory (10 when not positive).
func (e *Engine) Categorized(ctx context.Context, username string, perCategory int) (*Categories, error) {
	ctx, span := e.tracer.Start(ctx, "recommend.categorized")
	defer span.End()

	if perCategory <= 0 {
		perCategory = 10
	}

	_, history, err := e.history(ctx, username)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrNoHistory
	}

	profile := ExtractProfile(history, e.opts.DefaultRating)
	scorer := NewScorer(profile, e.opts.RatingWindow)

	available, err := e.books.AvailableBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load available books: %w", err)
	}

	buckets := make(map[int][]*catalog.Book, 4)
	for _, b := range available {
		if !b.IsAvailable || profile.HasRead(b.BookID) {
			continue
		}
		tier := scorer.Tier(b)
		buckets[tier] = append(buckets[tier], b)
	}

	byRatingDesc(buckets[TierAuthorAndPublisher])
	byRatingDesc(buckets[TierAuthor])
	byRatingDesc(buckets[TierPublisher])
	byRatingsCountDesc(buckets[TierRating])

	return &Categories{
		SameAuthorAndPublisher: headBooks(buckets[TierAuthorAndPublisher], perCategory),
		SameAuthor:             headBooks(buckets[TierAuthor], perCategory),
		SamePublisher:          headBooks(buckets[TierPublisher], perCategory),
		SimilarRating:          headBooks(buckets[TierRating], perCategory),
		Metadata: CategoryMetadata{
			FavoriteAuthors:    firstSorted(profile.KnownAuthors, len(profile.KnownAuthors)),
			FavoritePublishers: firstSorted(profile.KnownPublishers, len(profile.KnownPublishers)),
			AverageRating:      profile.AverageEnjoyedRating,
			TotalBooksRead:     profile.TotalLoans,
		},
	}, nil
}

func head(books []ScoredBook, n int) []ScoredBook {
	if len(books) > n {
		books = books[:n]
	}
	return books
}

func headBooks(books []*catalog.Book, n int) []*catalog.Book {
	if len(books) > n {
		books = books[:n]
	}
	if books == nil {
		books = []*catalog.Book{}
	}
	return books
}
