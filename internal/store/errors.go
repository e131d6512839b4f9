package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Common store error types
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
)

// ConvertDBError converts driver-specific errors to store errors. It
// understands pgx, lib/pq and sqlite3 errors; anything else is returned as is.
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	// PostgreSQL errors (pgx)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if sentinel := sqlStateError(pgErr.Code); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, constraintDetail(pgErr.ConstraintName, pgErr.ColumnName, pgErr.Detail))
		}
		return err
	}

	// PostgreSQL errors (lib/pq)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if sentinel := sqlStateError(string(pqErr.Code)); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, constraintDetail(pqErr.Constraint, pqErr.Column, pqErr.Detail))
		}
		return err
	}

	// SQLite errors
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", ErrUniqueViolation, liteErr.Error())
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %s", ErrForeignKeyViolation, liteErr.Error())
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %s", ErrCheckViolation, liteErr.Error())
		case sqlite3.ErrConstraintNotNull:
			return fmt.Errorf("%w: %s", ErrNotNullViolation, liteErr.Error())
		}
	}

	return err
}

func sqlStateError(code string) error {
	switch code {
	case "23505": // unique_violation
		return ErrUniqueViolation
	case "23503": // foreign_key_violation
		return ErrForeignKeyViolation
	case "23514": // check_violation
		return ErrCheckViolation
	case "23502": // not_null_violation
		return ErrNotNullViolation
	}
	return nil
}

func constraintDetail(constraint, column, detail string) string {
	var parts []string
	if constraint != "" {
		parts = append(parts, "constraint "+constraint)
	}
	if column != "" {
		parts = append(parts, "column "+column)
	}
	if detail != "" {
		parts = append(parts, detail)
	}
	return strings.Join(parts, ", ")
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUniqueViolation returns true if the error is, or converts to, ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(ConvertDBError(err), ErrUniqueViolation)
}

// IsConstraintViolation returns true for foreign key, check and not-null violations
func IsConstraintViolation(err error) bool {
	err = ConvertDBError(err)
	return errors.Is(err, ErrForeignKeyViolation) ||
		errors.Is(err, ErrCheckViolation) ||
		errors.Is(err, ErrNotNullViolation)
}
