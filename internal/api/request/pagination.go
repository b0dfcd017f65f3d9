package request

import (
	"net/http"
	"strconv"
)

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Cursor string
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ParsePagination extracts limit and cursor from query parameters. The
// cursor is the ID of the last item on the previous page.
func ParsePagination(r *http.Request) Pagination {
	q := r.URL.Query()
	p := Pagination{Limit: DefaultLimit, Cursor: q.Get("cursor")}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		p.Limit = min(limit, MaxLimit)
	}
	return p
}
