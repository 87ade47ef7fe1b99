package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store-level errors. Everything else returned by a repository is a dependency failure.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with an existing row")

	// ErrUndeclaredInvalidation is returned by a write whose Invalidation was not built
	// with Invalidate or NoInvalidation.
	ErrUndeclaredInvalidation = errors.New("write did not declare its cache invalidation")
)

const uniqueViolation = "23505"

// translate maps driver errors onto the store-level sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Join(ErrConflict, err)
	}
	return err
}
