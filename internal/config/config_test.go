// ABOUTME: Tests for configuration loading and overrides
// ABOUTME: Covers defaults, YAML parsing, env precedence, and key validation
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnvKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Voice.Voice != "Zephyr" {
		t.Errorf("Voice = %q, want Zephyr", cfg.Voice.Voice)
	}
	if cfg.Voice.ConnectTimeout.Std() != 15*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.Voice.ConnectTimeout)
	}
	if cfg.HistoryPath == "" {
		t.Error("HistoryPath empty")
	}
}

func TestLoadFileValues(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
api_key: file-key
chat:
  model: gemini-custom
voice:
  voice: Puck
  connect_timeout: 5s
history_path: /tmp/custom-history.json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Writing config failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIKey != "file-key" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Chat.Model != "gemini-custom" {
		t.Errorf("Chat.Model = %q", cfg.Chat.Model)
	}
	// Unset file fields keep their defaults.
	if cfg.Chat.LiteModel != "gemini-2.5-flash-lite" {
		t.Errorf("Chat.LiteModel = %q", cfg.Chat.LiteModel)
	}
	if cfg.Voice.Voice != "Puck" {
		t.Errorf("Voice = %q", cfg.Voice.Voice)
	}
	if cfg.Voice.ConnectTimeout.Std() != 5*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.Voice.ConnectTimeout)
	}
	if cfg.HistoryPath != "/tmp/custom-history.json" {
		t.Errorf("HistoryPath = %q", cfg.HistoryPath)
	}
}

func TestEnvOverridesFileKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-wins")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api_key: file-key\n"), 0o644); err != nil {
		t.Fatalf("Writing config failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIKey != "env-wins" {
		t.Errorf("APIKey = %q, want env-wins", cfg.APIKey)
	}
}

func TestLoadMissingKeyFails(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := Load(""); err != ErrMissingAPIKey {
		t.Errorf("Error = %v, want ErrMissingAPIKey", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Image.GenerateModel != "imagen-4.0-generate-001" {
		t.Errorf("GenerateModel = %q", cfg.Image.GenerateModel)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\tnot yaml"), 0o644); err != nil {
		t.Fatalf("Writing config failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestLocationParsed(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "location:\n  latitude: 41.88\n  longitude: -87.63\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Writing config failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Location == nil {
		t.Fatal("Location not parsed")
	}
	if cfg.Location.Latitude != 41.88 || cfg.Location.Longitude != -87.63 {
		t.Errorf("Location = %+v", cfg.Location)
	}
}

func TestLocationDefaultsNil(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Location != nil {
		t.Errorf("Location = %+v, want nil", cfg.Location)
	}
}

func TestInvalidDurationFails(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("voice:\n  connect_timeout: soon\n"), 0o644); err != nil {
		t.Fatalf("Writing config failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for unparseable duration")
	}
}

func TestNonPositiveTimeoutFallsBack(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("voice:\n  connect_timeout: 0s\n"), 0o644); err != nil {
		t.Fatalf("Writing config failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Voice.ConnectTimeout.Std() != 15*time.Second {
		t.Errorf("ConnectTimeout = %v, want 15s", cfg.Voice.ConnectTimeout)
	}
}
