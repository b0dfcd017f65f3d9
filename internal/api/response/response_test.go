package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/sslshop/internal/faults"
	"github.com/edvin/sslshop/internal/store"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "world", body["hello"])
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, "something went wrong")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "something went wrong", body.Error)
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantMsg    string
	}{
		{fmt.Errorf("%w: domain is not a valid name", faults.ErrValidation), http.StatusBadRequest, "validation error: domain is not a valid name"},
		{fmt.Errorf("%w: bad signature", faults.ErrUnauthorized), http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("get order x: %w", store.ErrNotFound), http.StatusNotFound, "not found"},
		{store.ErrDuplicateOrder, http.StatusConflict, store.ErrDuplicateOrder.Error()},
		{fmt.Errorf("square: status 503: %w", faults.ErrTransient), http.StatusServiceUnavailable, ""},
		{errors.New("gogetssl: raw provider text"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		WriteServiceError(w, tt.err)
		assert.Equal(t, tt.wantStatus, w.Code, tt.err.Error())

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotContains(t, body.Error, "raw provider text")
		if tt.wantMsg != "" {
			assert.Equal(t, tt.wantMsg, body.Error)
		}
	}
}

func TestWritePaginated(t *testing.T) {
	w := httptest.NewRecorder()

	WritePaginated(w, http.StatusOK, []string{"a", "b"}, "b", true)

	var body struct {
		Items      []string `json:"items"`
		NextCursor string   `json:"next_cursor"`
		HasMore    bool     `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"a", "b"}, body.Items)
	assert.Equal(t, "b", body.NextCursor)
	assert.True(t, body.HasMore)
}
