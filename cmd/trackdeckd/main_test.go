package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPersistenceBootstrap_CreatesDataDirAndSchema(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "trackdeck")

	mirror, err := persistenceBootstrap(dataDir)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer mirror.Close()

	if _, err := os.Stat(filepath.Join(dataDir, "cache.db")); err != nil {
		t.Fatalf("expected cache.db to exist: %v", err)
	}

	// Schema is usable right away.
	entries, err := mirror.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh mirror should be empty, got %d entries", len(entries))
	}
}

func TestPersistenceBootstrap_Reopens(t *testing.T) {
	dataDir := t.TempDir()

	mirror, err := persistenceBootstrap(dataDir)
	if err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	mirror.Close()

	// Second open must tolerate the already-applied schema.
	mirror, err = persistenceBootstrap(dataDir)
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	mirror.Close()
}

func TestFormatListenURL(t *testing.T) {
	if got := formatListenURL("127.0.0.1", 4810); got != "http://127.0.0.1:4810" {
		t.Fatalf("unexpected URL: %s", got)
	}
}
