package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherLoadsInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "morph.yaml")
	writeConfig(t, path, validYAML)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	cfg := w.GetConfig()
	if len(cfg.Routes) != 1 || cfg.Routes[0].ID != "users-route" {
		t.Fatalf("unexpected initial config: %+v", cfg.Routes)
	}
}

func TestWatcherRejectsInvalidInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "morph.yaml")
	writeConfig(t, path, "listeners: []\n")

	if _, err := NewWatcher(path); err == nil {
		t.Fatal("expected initial load failure")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "morph.yaml")
	writeConfig(t, path, validYAML)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()
	w.SetDebounce(20 * time.Millisecond)

	changed := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) { changed <- cfg })

	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	writeConfig(t, path, strings.Replace(validYAML, "id: users-route", "id: renamed", 1))

	select {
	case cfg := <-changed:
		if cfg.Routes[0].ID != "renamed" {
			t.Fatalf("expected reloaded route id, got %q", cfg.Routes[0].ID)
		}
		if w.GetConfig().Routes[0].ID != "renamed" {
			t.Fatal("expected GetConfig to observe the reload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherKeepsOldConfigOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "morph.yaml")
	writeConfig(t, path, validYAML)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()
	w.SetDebounce(20 * time.Millisecond)

	failed := make(chan error, 1)
	w.OnFailure(func(err error) { failed <- err })

	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	writeConfig(t, path, "listeners: []\n")

	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure callback")
	}

	if w.GetConfig().Routes[0].ID != "users-route" {
		t.Fatal("expected previous config to stay active")
	}
}
