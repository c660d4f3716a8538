package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default model identifiers and endpoints.
const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultImageModel  = "gemini-3-pro-image-preview"
	DefaultVideoModel  = "veo-3.1-generate-preview"
	DefaultAspectRatio = "16:9"
	DefaultImageSize   = "1K"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Gemini        struct {
		BaseURL           string `json:"base_url"`
		APIKey            string `json:"api_key"`
		ImageModel        string `json:"image_model"`
		VideoModel        string `json:"video_model"`
		AspectRatio       string `json:"aspect_ratio"`
		ImageSize         string `json:"image_size"`
		RequestsPerMinute int    `json:"requests_per_minute"`
	} `json:"gemini"`
	Poll struct {
		IntervalSeconds    float64 `json:"interval_seconds"`
		MaxPolls           int     `json:"max_polls"`
		Multiplier         float64 `json:"multiplier"`
		MaxIntervalSeconds float64 `json:"max_interval_seconds"`
	} `json:"poll"`
	Costs struct {
		Image float64 `json:"image"`
		Video float64 `json:"video"`
	} `json:"costs"`
	Telegram struct {
		Token        string  `json:"token"`
		AllowedUsers []int64 `json:"allowed_users"`
	} `json:"telegram"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".gopherpaint"),
		LogLevel:      "info",
		MaxConcurrent: 2,
	}
	cfg.Gemini.BaseURL = DefaultBaseURL
	cfg.Gemini.ImageModel = DefaultImageModel
	cfg.Gemini.VideoModel = DefaultVideoModel
	cfg.Gemini.AspectRatio = DefaultAspectRatio
	cfg.Gemini.ImageSize = DefaultImageSize
	cfg.Gemini.RequestsPerMinute = 10
	cfg.Poll.IntervalSeconds = 5
	cfg.Poll.MaxPolls = 120
	cfg.Poll.Multiplier = 1.0
	cfg.Poll.MaxIntervalSeconds = 30
	cfg.Costs.Image = 0.04
	cfg.Costs.Video = 3.20
	return cfg
}

// Load reads the config at path over the defaults, writing the defaults
// out first if the file does not exist. Environment variables win over
// the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadValid is Load followed by Validate. Reloads of a running process go
// through it so a bad edit never replaces a working config.
func LoadValid(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if key := os.Getenv(name); key != "" {
			cfg.Gemini.APIKey = key
		}
	}
	if baseURL := os.Getenv("GEMINI_BASE_URL"); baseURL != "" {
		cfg.Gemini.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
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

// ToMap round-trips cfg through JSON into a generic nested map.
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

// ListValues returns every setting as a flat dot-key map, optionally with
// secrets masked.
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

// GetValue returns the effective value of a dot key from the config at path.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets a dot key in the config file at path. The raw value is
// parsed as JSON when possible (numbers, booleans, arrays) and stored as a
// string otherwise. A value that fails Validate is not written.
// Environment overrides are not persisted.
func SetValue(path, key, raw string) error {
	cfg, err := LoadFile(path)
	if err != nil {
		return err
	}
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	if _, ok := flat[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	flat[key] = v

	data, err := json.Marshal(Unflatten(flat))
	if err != nil {
		return err
	}
	updated := Default()
	if err := json.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	return Save(path, updated)
}

// LoadFile is Load without environment overrides, so secrets from the
// environment never leak into the file on save.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports settings that would make the program misbehave.
func (c *Config) Validate() error {
	var problems []string
	if c.DataDir == "" {
		problems = append(problems, "data_dir is empty")
	}
	if c.MaxConcurrent < 1 {
		problems = append(problems, "max_concurrent must be at least 1")
	}
	if c.Poll.IntervalSeconds <= 0 {
		problems = append(problems, "poll.interval_seconds must be positive")
	}
	if c.Poll.MaxPolls < 1 {
		problems = append(problems, "poll.max_polls must be at least 1")
	}
	switch c.Gemini.ImageSize {
	case "", "1K", "2K", "4K":
	default:
		problems = append(problems, "gemini.image_size must be 1K, 2K or 4K")
	}
	if c.Costs.Image < 0 || c.Costs.Video < 0 {
		problems = append(problems, "costs must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SetupComplete reports whether an API key is available.
func (c *Config) SetupComplete() bool {
	return c.Gemini.APIKey != ""
}
