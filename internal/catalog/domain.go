// internal/catalog/domain.go
package catalog

import (
	"errors"
	"strings"
	"time"
)

var ErrBookNotFound = errors.New("book not found")

// Book is a catalog entry. BookID is the business key and is unique.
type Book struct {
	BookID           int        `json:"book_id"`
	Title            string     `json:"title"`
	Authors          string     `json:"authors"`
	AverageRating    *float64   `json:"average_rating,omitempty"`
	ISBN             string     `json:"isbn,omitempty"`
	ISBN13           string     `json:"isbn13,omitempty"`
	LanguageCode     string     `json:"language_code,omitempty"`
	NumPages         *int       `json:"num_pages,omitempty"`
	RatingsCount     int        `json:"ratings_count"`
	TextReviewsCount int        `json:"text_reviews_count"`
	PublicationDate  *time.Time `json:"publication_date,omitempty"`
	PublicationYear  *int       `json:"publication_year,omitempty"`
	Publisher        *string    `json:"publisher,omitempty"`
	IsAvailable      bool       `json:"is_available"`
}

// AuthorList splits the comma-separated Authors field into trimmed names.
func (b *Book) AuthorList() []string {
	var out []string
	for _, a := range strings.Split(b.Authors, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Rating returns the average rating and whether it is defined.
func (b *Book) Rating() (float64, bool) {
	if b.AverageRating == nil {
		return 0, false
	}
	return *b.AverageRating, true
}

// PublisherName returns the publisher or "" when unset.
func (b *Book) PublisherName() string {
	if b.Publisher == nil {
		return ""
	}
	return *b.Publisher
}

// Year returns the publication year or 0 when unset.
func (b *Book) Year() int {
	if b.PublicationYear == nil {
		return 0
	}
	return *b.PublicationYear
}

// PageRange buckets for Filter.Pages.
const (
	PagesShort  = "short"
	PagesMedium = "medium"
	PagesLong   = "long"
)

// Availability values for Filter.Availability.
const (
	AvailabilityAvailable = "available"
	AvailabilityBorrowed  = "borrowed"
)

// Filter holds catalog search parameters as received from the caller.
// MinRating stays a string: a value that does not parse disables that filter.
type Filter struct {
	Query        string
	Publisher    string
	MinRating    string
	Availability string
	Pages        string
}

// Active reports whether any filter besides the text query is set.
func (f Filter) Active() bool {
	return f.Publisher != "" || f.MinRating != "" || f.Availability != "" || f.Pages != ""
}

// PublisherCount is a publisher facet entry.
type PublisherCount struct {
	Publisher string `json:"publisher"`
	Count     int    `json:"count"`
}

// YearCount is a publication-year facet entry.
type YearCount struct {
	Year  int `json:"year"`
	Total int `json:"total"`
}
