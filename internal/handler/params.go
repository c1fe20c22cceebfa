package handler

import (
	"strings"
	"time"

	ierr "gatepass/internal/errors"
	"gatepass/internal/identity"
	"gatepass/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// bindJSON binds the request body and marks binding failures as validation errors
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request payload").
			Mark(ierr.ErrValidation))
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.Error(ierr.WithError(err).
			WithHintf("Invalid %s", name).
			Mark(ierr.ErrValidation))
		return uuid.Nil, false
	}
	return id, true
}

func mustIdentity(c *gin.Context) (identity.Context, bool) {
	idc, ok := middleware.GetIdentity(c)
	if !ok {
		c.Error(ierr.NewError("no identity on request").
			WithHint("Authorization is missing").
			Mark(ierr.ErrUnauthorized))
	}
	return idc, ok
}

// parseTime accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTime(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid date %q, expected YYYY-MM-DD or RFC3339", value).
			Mark(ierr.ErrValidation)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// dateRange reads the from/to query parameters
func dateRange(c *gin.Context) (from, to *time.Time, ok bool) {
	from, err := parseTime(c.Query("from"), false)
	if err != nil {
		c.Error(err)
		return nil, nil, false
	}
	to, err = parseTime(c.Query("to"), true)
	if err != nil {
		c.Error(err)
		return nil, nil, false
	}
	return from, to, true
}
