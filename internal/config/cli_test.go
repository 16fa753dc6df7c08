package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestCLIConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr bool
	}{
		{"empty config", CLIConfig{}, true},
		{"database only", CLIConfig{DatabaseURL: "postgres://localhost/aegis"}, false},
		{"bad tenant", CLIConfig{DatabaseURL: "postgres://localhost/aegis", DefaultTenant: "acme"}, true},
		{"full", CLIConfig{DatabaseURL: "postgres://localhost/aegis", DefaultTenant: uuid.NewString()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCLIConfig_Tenant(t *testing.T) {
	def := uuid.New()
	explicit := uuid.New()
	cfg := CLIConfig{DefaultTenant: def.String()}

	got, err := cfg.Tenant("")
	if err != nil || got != def {
		t.Errorf("Tenant(\"\") = %v, %v; want %v", got, err, def)
	}
	got, err = cfg.Tenant(explicit.String())
	if err != nil || got != explicit {
		t.Errorf("Tenant(explicit) = %v, %v; want %v", got, err, explicit)
	}
	if _, err := (&CLIConfig{}).Tenant(""); err == nil {
		t.Error("expected error without any tenant")
	}
	if _, err := cfg.Tenant("nope"); err == nil {
		t.Error("expected error for malformed tenant")
	}
}

func TestLoadCLI_NonExistent(t *testing.T) {
	cfg, err := LoadCLI(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("LoadCLI() error = %v", err)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestCLIConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	orig := &CLIConfig{DatabaseURL: "postgres://u:p@db/aegis", DefaultTenant: uuid.NewString(), LogLevel: "debug"}
	if err := orig.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected mode 0600, got %o", perm)
	}

	loaded, err := LoadCLI(path)
	if err != nil {
		t.Fatalf("LoadCLI() error = %v", err)
	}
	if *loaded != *orig {
		t.Errorf("loaded %+v, want %+v", loaded, orig)
	}
}

func TestLoadCLI_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("database_url: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCLI(path); err == nil {
		t.Error("expected parse error")
	}
}
