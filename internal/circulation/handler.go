// internal/circulation/handler.go
package circulation

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"librarium/internal/catalog"
	"librarium/internal/httpx"
	"librarium/internal/membership"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the loan endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/loans", h.handleBorrow)
	r.Get("/loans", h.handleActiveLoans)
	r.Post("/loans/{bookID}/return", h.handleReturn)
	r.Get("/loans/{loanID}/events", h.handleLoanEvents)
	r.Get("/users/{username}/dashboard", h.handleDashboard)
}

// BorrowRequest is the body of POST /loans.
type BorrowRequest struct {
	Username string `json:"username" validate:"required"`
	BookID   int    `json:"book_id" validate:"required,gt=0"`
}

// ReturnRequest is the body of POST /loans/{bookID}/return. Rating may be
// sent as a JSON number or string.
type ReturnRequest struct {
	Rating json.RawMessage `json:"rating,omitempty"`
}

func (r ReturnRequest) ratingText() string {
	raw := strings.TrimSpace(string(r.Rating))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Rating, &s); err == nil {
		return s
	}
	return raw
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	loan, err := h.service.Borrow(r.Context(), req.Username, req.BookID)
	if err != nil {
		writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, loan)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookID"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid book ID")
		return
	}

	var req ReturnRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	loan, err := h.service.Return(r.Context(), bookID, req.ratingText())
	if err != nil {
		writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) handleActiveLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ActiveLoans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) handleLoanEvents(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid loan ID")
		return
	}

	events, err := h.service.LoanEvents(r.Context(), loanID)
	if err != nil {
		writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context(), chi.URLParam(r, "username"), r.URL.Query().Get("rating_filter"))
	if err != nil {
		writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, d)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrBookNotFound), errors.Is(err, membership.ErrUserNotFound),
		errors.Is(err, ErrLoanNotFound):
		httpx.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBookUnavailable), errors.Is(err, ErrNoActiveLoan):
		httpx.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, membership.ErrInvalidUsername):
		httpx.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRateLimited):
		httpx.Error(w, http.StatusTooManyRequests, err.Error())
	default:
		httpx.Error(w, http.StatusInternalServerError, err.Error())
	}
}
