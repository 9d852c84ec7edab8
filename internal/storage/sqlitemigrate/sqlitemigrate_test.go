package sqlitemigrate

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	return countRows(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = '"+name+"'") == 1
}

func TestApplyRecordsEachFileOnce(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"0001_items.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;")},
		"0002_tags.sql":  {Data: []byte("CREATE TABLE tags(id TEXT PRIMARY KEY);")},
		"README.md":      {Data: []byte("ignored")},
	}
	for i := 0; i < 2; i++ {
		if err := Apply(context.Background(), db, migrations, ""); err != nil {
			t.Fatalf("apply pass %d: %v", i, err)
		}
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 2 {
		t.Fatalf("expected 2 recorded migrations, got %d", got)
	}
	if !tableExists(t, db, "items") || !tableExists(t, db, "tags") {
		t.Fatalf("expected both tables to exist")
	}
}

func TestApplyLeavesFailedMigrationUnrecorded(t *testing.T) {
	db := openInMemoryDB(t)
	bad := fstest.MapFS{"0001_bad.sql": {Data: []byte("CREAT TABLE nope(id INT);")}}
	if err := Apply(context.Background(), db, bad, ""); err == nil {
		t.Fatalf("expected malformed migration to fail")
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 0 {
		t.Fatalf("expected no recorded migrations, got %d", got)
	}
}

func TestApplyUsesRootInKey(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{"schema/0001_rows.sql": {Data: []byte("CREATE TABLE rows_t(id INTEGER PRIMARY KEY);")}}
	if err := Apply(context.Background(), db, migrations, "schema"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	var name string
	if err := db.QueryRow("SELECT name FROM schema_migrations").Scan(&name); err != nil {
		t.Fatalf("read key: %v", err)
	}
	if name != "schema/0001_rows.sql" {
		t.Fatalf("unexpected migration key %q", name)
	}
}

func TestUpSection(t *testing.T) {
	got := UpSection("-- +migrate Up\nSELECT 1;\n-- +migrate Down\nSELECT 2;")
	if got != "\nSELECT 1;\n" {
		t.Fatalf("unexpected up section %q", got)
	}
	if UpSection("SELECT 3;") != "SELECT 3;" {
		t.Fatalf("expected marker-less content to pass through")
	}
}
