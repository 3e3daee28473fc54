package postgres

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "conviction", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/conviction?sslmode=disable",
		},
		{
			name: "escapes credentials",
			cfg:  ClientConfig{Host: "db", Database: "c", User: "svc", Password: "p@ss/word"},
			want: "postgres://svc:p%40ss%2Fword@db:5432/c?sslmode=disable",
		},
		{
			name: "explicit port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "c", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/c?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_engine_events.sql", "002_engine_snapshots.sql"}, names)

	for _, name := range names {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		require.NoError(t, err)
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS", name)
	}
}
