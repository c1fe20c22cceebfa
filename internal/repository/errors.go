package repository

import (
	"context"
	"errors"

	ierr "gatepass/internal/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// translate maps storage errors onto the domain error kinds. The raw driver
// error stays in the chain for logs but never becomes a hint.
func translate(err error, entity string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ierr.WithError(err).
			WithHintf("%s not found", entity).
			Mark(ierr.ErrNotFound)
	case isUniqueViolation(err):
		return ierr.WithError(err).
			WithHintf("%s already exists", entity).
			Mark(ierr.ErrConflict)
	case errors.Is(err, context.DeadlineExceeded):
		return ierr.WithError(err).
			WithHint("The operation timed out").
			Mark(ierr.ErrDatabase)
	default:
		return ierr.WithError(err).
			WithHint("A storage error occurred").
			Mark(ierr.ErrDatabase)
	}
}
