package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestConvertDBErrorWithPgErrors(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "package_versions_name_version_key", Detail: "Key (package_name, version)=(ggvis, 0.1) already exists."}
	err := ConvertDBError(pgErr)
	assert.ErrorIs(t, err, ErrUniqueViolation)
	assert.Contains(t, err.Error(), "package_versions_name_version_key")
	assert.Contains(t, err.Error(), "Key (package_name, version)")

	pgErr = &pgconn.PgError{Code: "23503", Detail: "Key (maintainer_id)=(x) is not present in table collaborators."}
	assert.ErrorIs(t, ConvertDBError(pgErr), ErrForeignKeyViolation)

	pgErr = &pgconn.PgError{Code: "23514", ConstraintName: "reviews_rating_check"}
	assert.ErrorIs(t, ConvertDBError(pgErr), ErrCheckViolation)

	pgErr = &pgconn.PgError{Code: "23502", ColumnName: "title"}
	err = ConvertDBError(pgErr)
	assert.ErrorIs(t, err, ErrNotNullViolation)
	assert.Contains(t, err.Error(), "title")

	pgErr = &pgconn.PgError{Code: "99999", Message: "Unknown error"}
	assert.Equal(t, pgErr, ConvertDBError(pgErr))
}

func TestConvertDBErrorWithPqErrors(t *testing.T) {
	err := ConvertDBError(&pq.Error{Code: "23505", Constraint: "packages_name_key"})
	assert.ErrorIs(t, err, ErrUniqueViolation)
	assert.Contains(t, err.Error(), "packages_name_key")

	assert.ErrorIs(t, ConvertDBError(&pq.Error{Code: "23503"}), ErrForeignKeyViolation)
}

func TestConvertDBErrorWithSQLiteErrors(t *testing.T) {
	tests := []struct {
		name     string
		extended sqlite3.ErrNoExtended
		want     error
	}{
		{"unique", sqlite3.ErrConstraintUnique, ErrUniqueViolation},
		{"primary key", sqlite3.ErrConstraintPrimaryKey, ErrUniqueViolation},
		{"foreign key", sqlite3.ErrConstraintForeignKey, ErrForeignKeyViolation},
		{"check", sqlite3.ErrConstraintCheck, ErrCheckViolation},
		{"not null", sqlite3.ErrConstraintNotNull, ErrNotNullViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			liteErr := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: tt.extended}
			assert.ErrorIs(t, ConvertDBError(liteErr), tt.want)
		})
	}
}

func TestConvertDBErrorPassThrough(t *testing.T) {
	assert.NoError(t, ConvertDBError(nil))
	assert.ErrorIs(t, ConvertDBError(sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, ConvertDBError(fmt.Errorf("scan: %w", sql.ErrNoRows)), ErrNotFound)

	generic := errors.New("connection reset")
	assert.Equal(t, generic, ConvertDBError(generic))
}

func TestErrorPredicates(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, IsUniqueViolation(wrapped))
	assert.False(t, IsConstraintViolation(wrapped))

	assert.True(t, IsConstraintViolation(&pgconn.PgError{Code: "23502"}))
	assert.True(t, IsConstraintViolation(&pgconn.PgError{Code: "23514"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.True(t, IsNotFound(ConvertDBError(sql.ErrNoRows)))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"pgx deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pgx serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"pgx unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"pq deadlock", &pq.Error{Code: "40P01"}, true},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"deadlock message", errors.New("ERROR: deadlock detected"), true},
		{"serialization message", errors.New("could not serialize access due to concurrent update"), true},
		{"other error", errors.New("some other database error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryableError(tt.err))
		})
	}
}
