package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{
			name: "bare path",
			dsn:  "registry.db",
			want: "registry.db?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000",
		},
		{
			name: "keeps existing params",
			dsn:  "file:registry.db?cache=shared",
			want: "file:registry.db?cache=shared&_foreign_keys=on&_txlock=immediate&_busy_timeout=5000",
		},
		{
			name: "explicit values win",
			dsn:  "file:registry.db?_fk=off&_txlock=deferred&_timeout=100",
			want: "file:registry.db?_fk=off&_txlock=deferred&_timeout=100",
		},
		{
			name: "fills only what is missing",
			dsn:  "file:registry.db?_foreign_keys=on",
			want: "file:registry.db?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sqliteDSN(tt.dsn))
		})
	}
}

func TestOpen_SQLiteEnforcesForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	db, err := Open(context.Background(), DefaultConfig(DriverSQLite, "file:"+path))
	require.NoError(t, err)
	defer db.Close()

	var on int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&on))
	assert.Equal(t, 1, on)
}

func TestOpen_Invalid(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig("mysql", "x"))
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = Open(context.Background(), DefaultConfig(DriverSQLite, ""))
	assert.ErrorContains(t, err, "database url is required")
}
