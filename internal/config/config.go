package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	defaults "github.com/mcuadros/go-defaults"

	"github.com/menta2k/cryptonet/pkg/canonical"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CRYPTONET_"

// Config holds the application configuration
type Config struct {
	Engine  EngineConfig  `json:"engine" toml:"engine"`
	Image   ImageConfig   `json:"image" toml:"image"`
	Gateway GatewayConfig `json:"gateway" toml:"gateway"`
	Log     LogConfig     `json:"log" toml:"log"`
}

// EngineConfig locates the native engine and its session settings
type EngineConfig struct {
	LibraryPath      string                 `json:"library_path" toml:"library_path" default:"libprivid_fhe.so"`
	WorkingDirectory string                 `json:"working_directory" toml:"working_directory" default:"."`
	SessionSettings  map[string]interface{} `json:"session_settings" toml:"session_settings"`
}

// ImageConfig holds configuration for loading and canonicalizing images
type ImageConfig struct {
	Filter             string `json:"filter" toml:"filter" default:"lanczos"`
	HTTPTimeoutSeconds int    `json:"http_timeout_seconds" toml:"http_timeout_seconds" default:"30"`
	MaxBytes           int64  `json:"max_bytes" toml:"max_bytes" default:"20971520"`
	MinImageSize       int    `json:"min_image_size" toml:"min_image_size" default:"1"`
}

// GatewayConfig holds configuration for the HTTP gateway
type GatewayConfig struct {
	Addr                   string `json:"addr" toml:"addr" default:":8080"`
	MaxUploadBytes         int64  `json:"max_upload_bytes" toml:"max_upload_bytes" default:"10485760"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds" default:"15"`
	AuthSecret             string `json:"auth_secret" toml:"auth_secret"`
	AuthAudience           string `json:"auth_audience" toml:"auth_audience"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `json:"level" toml:"level" default:"info"`
}

// Default returns a configuration with default values
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// LoadFromFile loads configuration from a TOML (.toml) or JSON file. Keys
// missing from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads filename when it exists and falls back to defaults
// when it does not. Any other read or parse failure is returned.
func LoadOrDefault(filename string) (*Config, bool, error) {
	config, err := LoadFromFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return config, true, nil
}

// SaveToFile saves configuration to a TOML or JSON file depending on its extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from CRYPTONET_* environment variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"LIBRARY_PATH": &c.Engine.LibraryPath,
		"WORKING_DIR":  &c.Engine.WorkingDirectory,
		"IMAGE_FILTER": &c.Image.Filter,
		"ADDR":         &c.Gateway.Addr,
		"JWT_SECRET":   &c.Gateway.AuthSecret,
		"JWT_AUDIENCE": &c.Gateway.AuthAudience,
		"LOG_LEVEL":    &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HTTP_TIMEOUT_SECONDS":     &c.Image.HTTPTimeoutSeconds,
		"SHUTDOWN_TIMEOUT_SECONDS": &c.Gateway.ShutdownTimeoutSeconds,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv(EnvPrefix + "MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_UPLOAD_BYTES: %w", EnvPrefix, err)
		}
		c.Gateway.MaxUploadBytes = n
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Engine.LibraryPath) == "" {
		return fmt.Errorf("engine.library_path cannot be empty")
	}

	if strings.TrimSpace(c.Engine.WorkingDirectory) == "" {
		return fmt.Errorf("engine.working_directory cannot be empty")
	}

	if _, err := canonical.FilterByName(c.Image.Filter); err != nil {
		return fmt.Errorf("image.filter: %w", err)
	}

	if c.Image.HTTPTimeoutSeconds < 1 {
		return fmt.Errorf("image.http_timeout_seconds must be positive")
	}

	if c.Image.MaxBytes < 1 {
		return fmt.Errorf("image.max_bytes must be positive")
	}

	if c.Image.MinImageSize < 1 {
		return fmt.Errorf("image.min_image_size must be positive")
	}

	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr cannot be empty")
	}

	if c.Gateway.MaxUploadBytes < 1 {
		return fmt.Errorf("gateway.max_upload_bytes must be positive")
	}

	if c.Gateway.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("gateway.shutdown_timeout_seconds cannot be negative")
	}

	return nil
}

// Canonicalizer builds the image canonicalizer for the configured filter.
func (c *Config) Canonicalizer() (*canonical.Canonicalizer, error) {
	filter, err := canonical.FilterByName(c.Image.Filter)
	if err != nil {
		return nil, fmt.Errorf("image.filter: %w", err)
	}
	return canonical.NewWithConfig(canonical.Config{Filter: filter}), nil
}

// SessionSettingsJSON returns the session settings payload sent to the
// engine. Unset settings encode as an empty object.
func (c *Config) SessionSettingsJSON() ([]byte, error) {
	if len(c.Engine.SessionSettings) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(c.Engine.SessionSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session settings: %w", err)
	}
	return data, nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.toml"
	}
	return filepath.Join(home, ".config", "cryptonet", "config.toml")
}
