package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Browser.ViewportWidth != 1280 || c.LLM.Provider != "openai" {
		t.Errorf("expected defaults applied for a missing file, got %+v", c)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Paths.OutputRoot != "results" {
		t.Errorf("expected default OutputRoot, got %+v", c.Paths)
	}
}

func TestLoadFromBytesExpandsEnvVars(t *testing.T) {
	os.Setenv("COREPILOT_TEST_KEY", "secret-value")
	defer os.Unsetenv("COREPILOT_TEST_KEY")

	c, err := LoadFromBytes([]byte("LLM:\n  APIKey: ${COREPILOT_TEST_KEY}\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes error: %v", err)
	}
	if c.LLM.APIKey != "secret-value" {
		t.Errorf("APIKey = %q, want secret-value", c.LLM.APIKey)
	}
}

func TestLoadFromBytesOverridesSomeDefaultsNotOthers(t *testing.T) {
	c, err := LoadFromBytes([]byte("Browser:\n  ViewportWidth: 1920\nLLM:\n  Provider: anthropic\n"))
	if err != nil {
		t.Fatalf("LoadFromBytes error: %v", err)
	}
	if c.Browser.ViewportWidth != 1920 {
		t.Errorf("ViewportWidth = %d, want 1920 (explicit override)", c.Browser.ViewportWidth)
	}
	if c.LLM.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic (explicit override)", c.LLM.Provider)
	}
	// unset fields still receive their defaults alongside the overrides.
	if c.Browser.ViewportHeight != 720 {
		t.Errorf("ViewportHeight = %d, want default 720", c.Browser.ViewportHeight)
	}
	if c.Snapshot.MaxDepth != 8 {
		t.Errorf("MaxDepth = %d, want default 8", c.Snapshot.MaxDepth)
	}
}

func TestLoadReadsFileFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("Session:\n  MaxSessions: 9\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Session.MaxSessions != 9 {
		t.Errorf("MaxSessions = %d, want 9", c.Session.MaxSessions)
	}
}
