// ABOUTME: Application configuration loaded from YAML with env overrides
// ABOUTME: GEMINI_API_KEY always wins over the file for credentials
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey reports that neither the file nor the environment
// supplied a key.
var ErrMissingAPIKey = errors.New("config: no API key; set GEMINI_API_KEY or api_key in the config file")

// Duration decodes YAML values like "15s" or "2m" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"15s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full application configuration.
type Config struct {
	// APIKey authenticates every Gemini request.
	APIKey string `yaml:"api_key"`

	Chat  ChatConfig  `yaml:"chat"`
	Image ImageConfig `yaml:"image"`
	Voice VoiceConfig `yaml:"voice"`

	// Location is an optional static position used to ground maps
	// queries. Nil when unset.
	Location *Location `yaml:"location"`

	// HistoryPath is where conversations are persisted.
	HistoryPath string `yaml:"history_path"`
}

// Location is a latitude/longitude pair.
type Location struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// ChatConfig selects chat models.
type ChatConfig struct {
	Model     string `yaml:"model"`
	LiteModel string `yaml:"lite_model"`
}

// ImageConfig selects image models.
type ImageConfig struct {
	GenerateModel string `yaml:"generate_model"`
	EditModel     string `yaml:"edit_model"`
}

// VoiceConfig tunes the live audio session.
type VoiceConfig struct {
	Model          string   `yaml:"model"`
	Voice          string   `yaml:"voice"`
	Instructions   string   `yaml:"instructions"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Chat: ChatConfig{
			Model:     "gemini-2.5-flash",
			LiteModel: "gemini-2.5-flash-lite",
		},
		Image: ImageConfig{
			GenerateModel: "imagen-4.0-generate-001",
			EditModel:     "gemini-2.5-flash-image",
		},
		Voice: VoiceConfig{
			Model:          "gemini-2.5-flash-native-audio-preview",
			Voice:          "Zephyr",
			ConnectTimeout: Duration(15 * time.Second),
		},
		HistoryPath: defaultHistoryPath(),
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. An empty path or missing file yields defaults plus env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if cfg.Voice.ConnectTimeout <= 0 {
		cfg.Voice.ConnectTimeout = Default().Voice.ConnectTimeout
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = defaultHistoryPath()
	}

	if cfg.APIKey == "" {
		return Config{}, ErrMissingAPIKey
	}
	return cfg, nil
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "orbit-history.json"
	}
	return filepath.Join(dir, "orbit", "history.json")
}
