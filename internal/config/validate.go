// internal/config/validate.go
package config

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("%w: database.url is required", ErrInvalidConfig)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Circulation.LoanDays <= 0 {
		return fmt.Errorf("%w: circulation.loan_days must be positive", ErrInvalidConfig)
	}
	if c.Circulation.BorrowRate <= 0 || c.Circulation.BorrowBurst <= 0 {
		return fmt.Errorf("%w: circulation borrow rate and burst must be positive", ErrInvalidConfig)
	}

	r := c.Recommend
	limits := []struct {
		name  string
		value int
	}{
		{"recommend.cold_start_limit", r.ColdStartLimit},
		{"recommend.personalized_limit", r.PersonalizedLimit},
		{"recommend.priority_threshold", r.PriorityThreshold},
		{"recommend.priority_take", r.PriorityTake},
		{"recommend.supplemental_take", r.SupplementalTake},
	}
	for _, l := range limits {
		if l.value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, l.name)
		}
	}
	if r.PriorityTier < 0 || r.PriorityTier > 4 {
		return fmt.Errorf("%w: recommend.priority_tier must be within 0..4", ErrInvalidConfig)
	}
	if r.RatingWindow < 0 {
		return fmt.Errorf("%w: recommend.rating_window must not be negative", ErrInvalidConfig)
	}
	if r.DefaultRating < 0 || r.DefaultRating > 5 {
		return fmt.Errorf("%w: recommend.default_rating must be within 0..5", ErrInvalidConfig)
	}
	return nil
}
