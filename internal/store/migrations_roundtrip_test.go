package store

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrationsRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	runMigrationRoundTrip(t, ctx, db)
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("NOTEFORGE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("NOTEFORGE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, "pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `DROP TABLE IF EXISTS kv_store; DROP TABLE IF EXISTS schema_migrations;`)
	require.NoError(t, err, "reset schema")

	runMigrationRoundTrip(t, ctx, db)

	b := NewSQLBackend(db)
	require.NoError(t, b.Put(ctx, DocumentsKey, []byte(`[]`)))
	got, err := b.Get(ctx, DocumentsKey)
	require.NoError(t, err)
	require.Equal(t, `[]`, string(got))
}

func runMigrationRoundTrip(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	migrations := Migrations()

	require.NoError(t, ApplyMigrations(ctx, db, migrations), "apply up migrations (pass 1)")
	require.NoError(t, ApplyMigrations(ctx, db, migrations), "apply up migrations (idempotent pass)")
	require.NoError(t, applyDownMigrations(ctx, db, migrations), "apply down migrations")

	_, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err, "clear schema_migrations")

	require.NoError(t, ApplyMigrations(ctx, db, migrations), "apply up migrations (pass 2)")
}

func applyDownMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		name    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		downs = append(downs, migration{version: match[1], name: name})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := fs.ReadFile(fsys, down.name)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}

	return nil
}
