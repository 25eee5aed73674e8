package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

func TestReadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := readConfig(nil)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.HTTP.Addr != app.DefaultConfig().HTTP.Addr {
		t.Fatalf("unexpected http addr: %s", cfg.HTTP.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
}

func TestReadConfig_FromFlag(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "storefront.yaml")
	if err := os.WriteFile(path, []byte("http:\n  addr: \":9999\"\nstorage:\n  driver: memory\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := readConfig([]string{"-config", path})
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Fatalf("expected addr from file, got %s", cfg.HTTP.Addr)
	}
}

func TestReadConfig_Errors(t *testing.T) {
	chdir(t, t.TempDir())

	if _, err := readConfig([]string{"-unknown"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if _, err := readConfig([]string{"-config", "missing.yaml"}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
