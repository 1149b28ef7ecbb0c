// internal/clients/api_client.go
package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"librarium/internal/circulation"
	"librarium/internal/eventstore"
	"librarium/internal/logging"
	"librarium/internal/recommend"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Options configures an APIClient.
type Options struct {
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// APIClient talks to the librarium HTTP API. Transport failures and 5xx
// responses trip a circuit breaker; client errors do not.
type APIClient struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	log     zerolog.Logger
}

// NewAPIClient creates a client for the server at baseURL.
func NewAPIClient(baseURL string, opts Options) *APIClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	log := logging.Component("api-client")
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "librarium-api",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
		cb:      cb,
		log:     log,
	}
}

// Recommend fetches the recommendation list of a user.
func (c *APIClient) Recommend(ctx context.Context, username string) (*recommend.Result, error) {
	var res recommend.Result
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(username)+"/recommendations", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Categories fetches categorized recommendations, perCategory per group.
func (c *APIClient) Categories(ctx context.Context, username string, perCategory int) (*recommend.Categories, error) {
	path := "/users/" + url.PathEscape(username) + "/recommendations/categories"
	if perCategory > 0 {
		path += "?limit=" + strconv.Itoa(perCategory)
	}
	var res recommend.Categories
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Borrow opens a loan.
func (c *APIClient) Borrow(ctx context.Context, username string, bookID int) (*circulation.Loan, error) {
	req := circulation.BorrowRequest{Username: username, BookID: bookID}
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, "/loans", req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// Return closes the open loan of a book. An empty rating leaves it unrated.
func (c *APIClient) Return(ctx context.Context, bookID int, rating string) (*circulation.Loan, error) {
	body := map[string]string{}
	if rating != "" {
		body["rating"] = rating
	}
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/loans/%d/return", bookID), body, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// ActiveLoans lists open loans.
func (c *APIClient) ActiveLoans(ctx context.Context) ([]*circulation.Loan, error) {
	var loans []*circulation.Loan
	if err := c.do(ctx, http.MethodGet, "/loans", nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

// LoanEvents fetches the event history of one loan.
func (c *APIClient) LoanEvents(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	var events []eventstore.Event
	if err := c.do(ctx, http.MethodGet, "/loans/"+loanID.String()+"/events", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s %s rejected: %w", method, path, err)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *APIClient) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
			apiErr.Message = errBody.Error
		}
		c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("request failed")
		return nil, apiErr
	}
	return body, nil
}
