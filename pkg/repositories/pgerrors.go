package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// hasPgCode reports whether err wraps a PostgreSQL error with the given SQLSTATE.
func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
