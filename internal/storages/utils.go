package storage

import (
	"errors"

	"github.com/jackc/pgconn"
)

func GetPgxConstraintName(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError

	if !errors.As(err, &pgErr) {
		return ""
	}

	return pgErr.ConstraintName
}
