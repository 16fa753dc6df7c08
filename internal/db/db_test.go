package db

import (
	"strings"
	"testing"
)

func TestGetMigrations(t *testing.T) {
	migrations, err := GetMigrations()
	if err != nil {
		t.Fatalf("GetMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one embedded migration")
	}

	prev := 0
	for _, m := range migrations {
		if m.Version <= prev {
			t.Errorf("migrations not strictly ordered: %d after %d", m.Version, prev)
		}
		prev = m.Version
		if strings.HasSuffix(m.Name, ".sql") {
			t.Errorf("migration name should not include extension: %s", m.Name)
		}
		if strings.TrimSpace(m.SQL) == "" {
			t.Errorf("migration %s is empty", m.Name)
		}
	}

	if !strings.Contains(migrations[0].SQL, "CREATE TABLE backup_schedules") {
		t.Error("initial migration should create backup_schedules")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://localhost/aegis")
	if cfg.URL != "postgres://localhost/aegis" {
		t.Errorf("unexpected URL %q", cfg.URL)
	}
	if cfg.MinConns > cfg.MaxConns {
		t.Errorf("min conns %d exceeds max %d", cfg.MinConns, cfg.MaxConns)
	}
}
