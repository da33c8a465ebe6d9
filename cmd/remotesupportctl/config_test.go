package main

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	dataDir := t.TempDir()

	first, firstPath, err := LoadOrCreate(dataDir)
	if err != nil {
		t.Fatalf("first LoadOrCreate: %v", err)
	}
	if first.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	if first.PortalURL == "" {
		t.Fatal("expected a default portal URL")
	}

	wantPath := filepath.Join(dataDir, "config.json")
	if firstPath != wantPath {
		t.Fatalf("expected config path %q, got %q", wantPath, firstPath)
	}

	second, secondPath, err := LoadOrCreate(dataDir)
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected stable config path, got %q then %q", firstPath, secondPath)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected stable session id, got %q then %q", first.SessionID, second.SessionID)
	}
}

func TestResolveDataDirHonorsOverride(t *testing.T) {
	t.Setenv("REMOTESUPPORTCTL_DATA_DIR", "/tmp/custom-remotesupportctl-dir")

	got, err := ResolveDataDir()
	if err != nil {
		t.Fatalf("ResolveDataDir: %v", err)
	}
	if got != "/tmp/custom-remotesupportctl-dir" {
		t.Fatalf("expected override to take effect, got %q", got)
	}
}

func TestSaveRoundTripsEditedFields(t *testing.T) {
	dataDir := t.TempDir()
	cfg, path, err := LoadOrCreate(dataDir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	cfg.PortalURL = "wss://support.example.com/control"
	cfg.Technician = "alice"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, _, err := LoadOrCreate(dataDir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.PortalURL != "wss://support.example.com/control" || reloaded.Technician != "alice" {
		t.Fatalf("expected edited fields to persist, got %+v", reloaded)
	}
}
