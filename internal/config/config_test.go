package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "opscore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
run:
  master_prompt: "watch the fleet"
gateway:
  provider: anthropic
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Run.MaxAssistants != Default().Run.MaxAssistants {
		t.Errorf("expected default max_assistants, got %d", cfg.Run.MaxAssistants)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected default logging format json, got %q", cfg.Logging.Format)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
run:
  max_assistants: 2
extra_top_level_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsBadGatewayProvider(t *testing.T) {
	path := writeConfig(t, `
gateway:
  provider: carrier-pigeon
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "main.yaml")

	if err := os.WriteFile(basePath, []byte("run:\n  max_assistants: 5\n  max_retries: 2\n"), 0o644); err != nil {
		t.Fatalf("write base: %v", err)
	}
	if err := os.WriteFile(mainPath, []byte("$include: base.yaml\nrun:\n  max_retries: 9\n"), 0o644); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Run.MaxAssistants != 5 {
		t.Errorf("expected included max_assistants 5, got %d", cfg.Run.MaxAssistants)
	}
	if cfg.Run.MaxRetries != 9 {
		t.Errorf("expected overriding max_retries 9, got %d", cfg.Run.MaxRetries)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")

	if err := os.WriteFile(aPath, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(bPath, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatalf("write b: %v", err)
	}

	if _, err := Load(aPath); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("OPSCORE_ANTHROPIC_API_KEY", "sk-test-123")
	path := writeConfig(t, "gateway:\n  provider: anthropic\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("expected env override to set API key, got %q", cfg.Gateway.Anthropic.APIKey)
	}
}

func TestLoadStringJSON5(t *testing.T) {
	cfg, err := LoadString("json5", `{
		// trailing commas and comments are fine in json5
		run: { max_assistants: 7 },
	}`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if cfg.Run.MaxAssistants != 7 {
		t.Errorf("expected max_assistants 7, got %d", cfg.Run.MaxAssistants)
	}
}
