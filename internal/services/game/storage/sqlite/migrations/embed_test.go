package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestGameMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(GameFS, "game")
	if err != nil {
		t.Fatalf("read game migrations: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected game migrations to be embedded, got %d", len(entries))
	}
	if entries[0].Name() != "001_ledger_cache.sql" {
		t.Fatalf("expected first migration 001_ledger_cache.sql, got %s", entries[0].Name())
	}
	for _, entry := range entries {
		data, err := fs.ReadFile(GameFS, "game/"+entry.Name())
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		if !strings.Contains(string(data), "-- +migrate Up") {
			t.Fatalf("%s has no Up section", entry.Name())
		}
	}
}
