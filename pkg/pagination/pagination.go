package pagination

import (
	"net/http"
	"strconv"

	ierr "gatepass/internal/errors"
	"gatepass/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds validated pagination parameters
type Params struct {
	Page  int
	Limit int
}

// Parse reads page and limit from the query string. Missing values fall back
// to the defaults and limit is capped at MaxLimit; anything that is not a
// positive integer is rejected.
func Parse(c *gin.Context) (Params, error) {
	page, err := positive(c, "page", DefaultPage)
	if err != nil {
		return Params{}, err
	}
	limit, err := positive(c, "limit", DefaultLimit)
	if err != nil {
		return Params{}, err
	}
	return Params{Page: page, Limit: min(limit, MaxLimit)}, nil
}

func positive(c *gin.Context, name string, fallback int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, ierr.NewErrorf("invalid %s %q", name, raw).
			WithHintf("%s must be a positive integer", name).
			WithReportableDetails(map[string]any{"param": name, "value": raw}).
			Mark(ierr.ErrValidation)
	}
	return n, nil
}

// Envelope wraps one page of results in the success envelope
func (p Params) Envelope(items any, total int64) response.Response {
	return response.Paged(http.StatusOK, items, total, p.Page, p.Limit)
}
