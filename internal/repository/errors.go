package repository

import (
	"errors"

	"taxcore/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// translate maps storage errors onto the application taxonomy.
// resource and id are only used to build the not-found message.
func translate(err error, op, resource string, id interface{}) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(op, resource, id)
	case isUniqueViolation(err):
		return apperr.Wrap(err, apperr.CodeConflict, op, resource+" already exists")
	}
	return apperr.Wrap(err, apperr.CodeInternal, op, "database error")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
