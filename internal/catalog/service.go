// internal/catalog/service.go
package catalog

import (
	"context"
)

// Service defines the interface for the catalog service.
type Service interface {
	GetBook(ctx context.Context, bookID int) (*Book, error)
	Search(ctx context.Context, filter Filter) ([]*Book, error)
	Publishers(ctx context.Context, limit int) ([]PublisherCount, error)
	BooksByYear(ctx context.Context, year int) ([]*Book, error)
	Years(ctx context.Context) ([]YearCount, error)
}
