// internal/catalog/handler.go
package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"librarium/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books", h.handleSearch)
	r.Get("/books/{bookID}", h.handleGetBook)
	r.Get("/publishers", h.handlePublishers)
	r.Get("/years", h.handleYears)
	r.Get("/years/{year}", h.handleBooksByYear)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Query:        q.Get("q"),
		Publisher:    q.Get("publisher"),
		MinRating:    q.Get("min_rating"),
		Availability: q.Get("availability"),
		Pages:        q.Get("pages"),
	}

	books, err := h.service.Search(r.Context(), filter)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.Atoi(chi.URLParam(r, "bookID"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid book ID")
		return
	}

	book, err := h.service.GetBook(r.Context(), bookID)
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			httpx.Error(w, http.StatusNotFound, err.Error())
			return
		}
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handlePublishers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	publishers, err := h.service.Publishers(r.Context(), limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, publishers)
}

func (h *Handler) handleYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.service.Years(r.Context())
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, years)
}

func (h *Handler) handleBooksByYear(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid year")
		return
	}

	books, err := h.service.BooksByYear(r.Context(), year)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"year":  year,
		"count": len(books),
		"books": books,
	})
}
