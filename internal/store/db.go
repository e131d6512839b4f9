// Package store is the relational persistence layer of the registry: driver
// setup, transactions, error classification, schema migrations and the row
// level queries used by ingestion and retrieval.
//
// Queries use $N placeholders numbered in order of appearance, which every
// supported driver (pgx, lib/pq, sqlite3) accepts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

// Supported driver names
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database connection and pool configuration
type Config struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns pool settings suitable for a single registry instance
func DefaultConfig(driver, url string) Config {
	return Config{
		Driver:          driver,
		URL:             url,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Open opens a database handle, configures the pool and verifies the connection
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case DriverPgx, DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	dsn := cfg.URL
	if cfg.Driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := configurePool(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// sqliteDefaults are the connection parameters the schema and the
// concurrent get-or-create rely on. Each applies unless the DSN sets it or
// one of its aliases.
var sqliteDefaults = []struct {
	keys  []string
	value string
}{
	{[]string{"_foreign_keys", "_fk"}, "on"},
	{[]string{"_txlock"}, "immediate"},
	{[]string{"_busy_timeout", "_timeout"}, "5000"},
}

// sqliteDSN appends the missing sqliteDefaults to a go-sqlite3 DSN
func sqliteDSN(dsn string) string {
	base, rawQuery, _ := strings.Cut(dsn, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return dsn
	}

	var extra []string
	for _, d := range sqliteDefaults {
		set := false
		for _, k := range d.keys {
			if query.Has(k) {
				set = true
				break
			}
		}
		if !set {
			extra = append(extra, d.keys[0]+"="+d.value)
		}
	}
	if len(extra) == 0 {
		return dsn
	}
	if rawQuery == "" {
		return base + "?" + strings.Join(extra, "&")
	}
	return dsn + "&" + strings.Join(extra, "&")
}

// configurePool configures the database connection pool
func configurePool(ctx context.Context, db *sql.DB, cfg Config) error {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}
