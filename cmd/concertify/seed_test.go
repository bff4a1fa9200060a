package main

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/concertify/concertify/pkg/config"
)

const seedFixture = `[
	{
		"id": "c-1",
		"name": "Midnight Frequencies",
		"artist": "The Sines",
		"venue": "Harbor Hall",
		"start_time": "2026-09-01T20:00:00Z",
		"duration_minutes": 150,
		"genre": "electronic",
		"category": "club"
	},
	{
		"id": "c-2",
		"name": "Acoustic Evening",
		"artist": "Mara Lindh",
		"venue": "Old Theatre",
		"start_time": "2026-09-03T19:00:00Z",
		"duration_minutes": 120,
		"genre": "folk",
		"category": "intimate"
	}
]`

func writeSeedFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "concerts.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeSeedFile(t, seedFixture)

	catalog, err := loadCatalog(path)
	if err != nil {
		t.Fatalf("loadCatalog returned error: %v", err)
	}
	if len(catalog) != 2 {
		t.Fatalf("loadCatalog returned %d concerts, want 2", len(catalog))
	}
	if catalog[0].Artist != "The Sines" {
		t.Fatalf("unexpected artist: %q", catalog[0].Artist)
	}
}

func TestLoadCatalogRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{name: "invalid json", contents: `{"not": "a list"}`},
		{name: "missing id", contents: `[{"name": "X", "artist": "Y"}]`},
		{name: "missing artist", contents: `[{"id": "c-1", "name": "X"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSeedFile(t, tt.contents)
			if _, err := loadCatalog(path); err == nil {
				t.Fatalf("loadCatalog accepted %s", tt.name)
			}
		})
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := loadCatalog(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("loadCatalog expected error for missing file")
	}
}

func TestRunSeed(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		DatabasePath: filepath.Join(dir, "concertify.db"),
		SeedFilePath: writeSeedFile(t, seedFixture),
	}

	if err := runSeed(cfg, zerolog.Nop(), nil); err != nil {
		t.Fatalf("runSeed returned error: %v", err)
	}

	// Re-running the seed must be idempotent.
	if err := runSeed(cfg, zerolog.Nop(), nil); err != nil {
		t.Fatalf("runSeed second pass returned error: %v", err)
	}

	conn, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer conn.Close()

	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM concerts").Scan(&count); err != nil {
		t.Fatalf("count concerts: %v", err)
	}
	if count != 2 {
		t.Fatalf("concerts count = %d, want 2", count)
	}
}

func TestRunSeedRejectsEmptyCatalog(t *testing.T) {
	cfg := &config.Config{
		DatabasePath: filepath.Join(t.TempDir(), "concertify.db"),
		SeedFilePath: writeSeedFile(t, `[]`),
	}

	if err := runSeed(cfg, zerolog.Nop(), nil); err == nil {
		t.Fatalf("runSeed accepted an empty catalog")
	}
}
