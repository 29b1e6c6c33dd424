package pgstore

import (
	"errors"

	"github.com/edgeflare/radmin/pkg/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ConvertDBError maps pgx errors onto the store sentinels using the SQLSTATE
// code. Other errors pass through untouched.
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	var kind error
	switch pgErr.Code {
	case "23505": // unique_violation
		kind = store.ErrUniqueViolation
	case "23503": // foreign_key_violation
		kind = store.ErrForeignKeyViolation
	case "23502": // not_null_violation
		kind = store.ErrNotNullViolation
	case "23514": // check_violation
		kind = store.ErrCheckViolation
	default:
		return err
	}
	return &store.ConstraintError{
		Kind:       kind,
		Column:     pgErr.ColumnName,
		Constraint: pgErr.ConstraintName,
		Detail:     pgErr.Detail,
	}
}
