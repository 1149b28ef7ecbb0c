// internal/recommend/handler.go
package recommend

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"librarium/internal/httpx"
)

// Recommender is the engine surface the handler serves.
type Recommender interface {
	Recommend(ctx context.Context, username string) (*Result, error)
	Categorized(ctx context.Context, username string, perCategory int) (*Categories, error)
}

type Handler struct {
	engine Recommender
}

func NewHandler(engine Recommender) *Handler {
	return &Handler{engine: engine}
}

// Routes mounts the recommendation endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users/{username}/recommendations", h.handleRecommend)
	r.Get("/users/{username}/recommendations/categories", h.handleCategories)
}

func (h *Handler) handleRecommend(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Recommend(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	// An unparsable limit falls back to the default.
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	res, err := h.engine.Categorized(r.Context(), chi.URLParam(r, "username"), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, res)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		httpx.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoHistory):
		httpx.Error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		httpx.Error(w, http.StatusInternalServerError, err.Error())
	}
}
