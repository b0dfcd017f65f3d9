package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edvin/sslshop/internal/faults"
	"github.com/edvin/sslshop/internal/store"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteServiceError maps a service error to its status code. Only
// validation messages are passed through; integration failures are
// reported generically.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, faults.ErrValidation):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, faults.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicateOrder):
		WriteError(w, http.StatusConflict, store.ErrDuplicateOrder.Error())
	case errors.Is(err, faults.ErrTransient):
		WriteError(w, http.StatusServiceUnavailable, "a provider is temporarily unavailable, try again shortly")
	default:
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// PaginatedResponse wraps a list with pagination metadata.
type PaginatedResponse struct {
	Items      any    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// WritePaginated writes a paginated JSON response.
func WritePaginated(w http.ResponseWriter, status int, items any, nextCursor string, hasMore bool) {
	WriteJSON(w, status, PaginatedResponse{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	})
}
