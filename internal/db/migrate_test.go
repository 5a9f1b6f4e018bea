package db

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	files := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("docs")},
		"nonum_file.sql": {Data: []byte("SELECT 0;")},
	}

	migrations, err := LoadMigrations(files)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	want := []int{1, 2, 10}
	for i, m := range migrations {
		if m.Version != want[i] {
			t.Errorf("migration %d: expected version %d, got %d", i, want[i], m.Version)
		}
	}
	if migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL for first migration: %q", migrations[0].SQL)
	}
}

func TestLoadMigrations_RejectsDuplicateVersions(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := LoadMigrations(files); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestEmbeddedSchema(t *testing.T) {
	migrations, err := LoadMigrations(Migrations())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}

	schema := migrations[0].SQL
	for _, fragment := range []string{
		"UNIQUE (doctor_id, date, start_time, end_time)",
		"appointments_active_per_day_uniq",
		"WHERE status <> 'CANCELLED'",
		"appointments_slot_confirmed_uniq",
	} {
		if !strings.Contains(schema, fragment) {
			t.Errorf("schema is missing %q", fragment)
		}
	}
}
