package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteMemoryMigrates(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Options{Driver: DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	for _, table := range []string{"devices", "reservations", "admins", "schema_migrations"} {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db, DriverSQLite); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+1, err)
		}
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	want, _ := Migrations(DriverSQLite)
	if n != len(want) {
		t.Errorf("schema_migrations rows = %d, want %d", n, len(want))
	}
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "lab.db")
	db, err := OpenSQLite(p)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()
	if _, err := os.Stat(filepath.Dir(p)); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestMigrationsPerDriver(t *testing.T) {
	for _, driver := range []string{DriverMySQL, DriverSQLite} {
		ms, err := Migrations(driver)
		if err != nil {
			t.Fatalf("Migrations(%q) error = %v", driver, err)
		}
		if len(ms) == 0 || ms[0].Version != "0001_init" {
			t.Errorf("Migrations(%q) = %+v, want 0001_init first", driver, ms)
		}
	}
	if _, err := Migrations("postgres"); err == nil {
		t.Error("Migrations(postgres) error = nil, want error")
	}
	if _, err := Open(context.Background(), Options{Driver: "postgres"}); err == nil {
		t.Error("Open(postgres) error = nil, want error")
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n  ;CREATE INDEX i ON a (x);\n")
	if len(got) != 2 || got[1] != "CREATE INDEX i ON a (x)" {
		t.Errorf("splitStatements() = %q", got)
	}
}
