package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Endpoint is the connection settings for one tracking platform.
type Endpoint struct {
	BaseURL   string  `json:"base_url" yaml:"base_url"`
	APIKey    string  `json:"api_key" yaml:"api_key"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst     int     `json:"burst" yaml:"burst"`
}

// secretKeys are the flattened keys holding credentials.
var secretKeys = map[string]bool{
	"source.api_key":      true,
	"destination.api_key": true,
	"telegram.token":      true,
}

// IsSecretKey reports whether the flattened key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

type Config struct {
	DataDir           string `json:"data_dir" yaml:"data_dir"`
	LogLevel          string `json:"log_level" yaml:"log_level"`
	Workers           int    `json:"workers" yaml:"workers"`
	Output            string `json:"output" yaml:"output"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`

	Source      Endpoint `json:"source" yaml:"source"`
	Destination Endpoint `json:"destination" yaml:"destination"`

	HTTP struct {
		Enabled bool   `json:"enabled" yaml:"enabled"`
		Listen  string `json:"listen" yaml:"listen"`
	} `json:"http" yaml:"http"`
	Telegram struct {
		Token string `json:"token" yaml:"token"`
	} `json:"telegram" yaml:"telegram"`
}

// DefaultURL is the hosted platform used when no base URL is configured.
const DefaultURL = "https://www.comet.com/api/rest/v2"

// DefaultPath is ~/.expmirror/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".expmirror", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:           filepath.Join(os.Getenv("HOME"), ".expmirror"),
		LogLevel:          "info",
		Output:            ".",
		MaxConcurrentJobs: 2,
	}
	cfg.Source.BaseURL = DefaultURL
	cfg.Source.RateLimit = 10
	cfg.Source.Burst = 20
	cfg.HTTP.Listen = "127.0.0.1:8484"
	return cfg
}

// isYAML reports whether path is a YAML config file.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("EXPMIRROR_API_KEY"); apiKey != "" {
		cfg.Source.APIKey = apiKey
	}
	if baseURL := os.Getenv("EXPMIRROR_URL"); baseURL != "" {
		cfg.Source.BaseURL = baseURL
	}
	if apiKey := os.Getenv("EXPMIRROR_DEST_API_KEY"); apiKey != "" {
		cfg.Destination.APIKey = apiKey
	}
	if baseURL := os.Getenv("EXPMIRROR_DEST_URL"); baseURL != "" {
		cfg.Destination.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// DestinationEndpoint returns the destination settings, falling back to
// the source for every unset field.
func (c *Config) DestinationEndpoint() Endpoint {
	d := c.Destination
	if d.BaseURL == "" {
		d.BaseURL = c.Source.BaseURL
	}
	if d.APIKey == "" {
		d.APIKey = c.Source.APIKey
	}
	if d.RateLimit == 0 {
		d.RateLimit = c.Source.RateLimit
		d.Burst = c.Source.Burst
	}
	return d
}

func unmarshal(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func marshal(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes cfg to path atomically, creating the directory.
func Save(path string, cfg *Config) error {
	data, err := marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a generic nested map via its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every config value keyed by its dotted name.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw loads the file at path as a nested map, keeping keys the Config
// struct does not know about.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := make(map[string]any)
	if err := unmarshal(path, data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

// GetValue returns the value stored under a dotted key. The file is
// created with defaults when missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dotted key of an existing config file.
// Values that parse as JSON (numbers, booleans) keep their type.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	flat := Flatten(raw)
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		switch parsed.(type) {
		case float64, bool:
			flat[key] = parsed
		default:
			flat[key] = value
		}
	} else {
		flat[key] = value
	}
	data, err := marshal(path, Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}
