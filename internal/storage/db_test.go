package storage

import (
	"context"
	"testing"
)

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: Postgres}
	if got := pg.Rebind("SELECT a FROM t WHERE x = ? AND y = ?"); got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("postgres rebind: %q", got)
	}
	lite := &DB{Dialect: SQLite}
	if got := lite.Rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite rebind: %q", got)
	}
}

func TestOpenSQLiteMigrates(t *testing.T) {
	db, err := Open(context.Background(), "sqlite://file:storage_test?mode=memory&cache=shared")
	if err != nil { t.Fatalf("Open: %v", err) }
	t.Cleanup(func() { _ = db.Close() })
	if db.Dialect != SQLite { t.Fatalf("dialect: %s", db.Dialect) }
	// second run must be a no-op
	if err := db.Migrate(context.Background()); err != nil { t.Fatalf("Migrate: %v", err) }
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open(context.Background(), "mysql://x"); err == nil { t.Fatalf("expected error") }
	if _, err := Open(context.Background(), ""); err == nil { t.Fatalf("expected error for empty url") }
}
