// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinvault.
//
// go-pinvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads go-pinvault configuration from defaults, a YAML file,
// PINVAULT_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-pinvault/pkg/biometric"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
	"github.com/jeremyhahn/go-pinvault/pkg/validation"
	"github.com/jeremyhahn/go-pinvault/pkg/vault"
)

const (
	// EnvPrefix prefixes every environment override, e.g. PINVAULT_STORAGE_PATH.
	EnvPrefix = "PINVAULT"

	// FileName is the config file name inside the data directory.
	FileName = "config.yaml"

	StorageFile    = "file"
	StorageMemory  = "memory"
	StorageKeyring = "keyring"
)

// Config represents the complete go-pinvault configuration
type Config struct {
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Keystore  KeystoreConfig  `yaml:"keystore" mapstructure:"keystore"`
	Biometric BiometricConfig `yaml:"biometric" mapstructure:"biometric"`
	Vault     VaultConfig     `yaml:"vault" mapstructure:"vault"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// StorageConfig selects the backend holding enrollment, lockout state and the PIN record
type StorageConfig struct {
	Backend        string `yaml:"backend" mapstructure:"backend"` // file, memory, keyring
	Path           string `yaml:"path" mapstructure:"path"`
	KeyringService string `yaml:"keyring_service" mapstructure:"keyring_service"`
}

// KeystoreConfig controls the biometric-bound key
type KeystoreConfig struct {
	KeyName string `yaml:"key_name" mapstructure:"key_name"`
	// Storage holds key records and the sensor credential: keyring or memory.
	// The keyring uses storage.keyring_service.
	Storage string `yaml:"storage" mapstructure:"storage"`
	// Passphrase wraps key material at rest when set
	Passphrase string   `yaml:"passphrase,omitempty" mapstructure:"passphrase"`
	GrantTTL   Duration `yaml:"grant_ttl" mapstructure:"grant_ttl"`
}

// BiometricConfig controls the authenticator
type BiometricConfig struct {
	RPID            string   `yaml:"rp_id" mapstructure:"rp_id"`
	RPDisplayName   string   `yaml:"rp_display_name" mapstructure:"rp_display_name"`
	Origin          string   `yaml:"origin" mapstructure:"origin"`
	Timeout         Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts     int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	LockoutDuration Duration `yaml:"lockout_duration" mapstructure:"lockout_duration"`
	SampleInterval  Duration `yaml:"sample_interval" mapstructure:"sample_interval"`
	SensorClass     string   `yaml:"sensor_class" mapstructure:"sensor_class"` // strong, weak
}

// VaultConfig names the PIN record
type VaultConfig struct {
	RecordKey string `yaml:"record_key" mapstructure:"record_key"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig controls the status daemon
type ServerConfig struct {
	Listen    string  `yaml:"listen" mapstructure:"listen"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled          bool     `yaml:"enabled" mapstructure:"enabled"`
	Path             string   `yaml:"path" mapstructure:"path"`
	ResourceInterval Duration `yaml:"resource_interval" mapstructure:"resource_interval"`
}

// Duration is a time.Duration written as "30s" in YAML and environment values.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultDataDir returns $HOME/.pinvault, or .pinvault when no home exists.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".pinvault"
	}
	return filepath.Join(home, ".pinvault")
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:        StorageFile,
			Path:           DefaultDataDir(),
			KeyringService: "go-pinvault",
		},
		Keystore: KeystoreConfig{
			KeyName:  vault.DefaultKeyName,
			Storage:  StorageKeyring,
			GrantTTL: Duration(30 * time.Second),
		},
		Biometric: BiometricConfig{
			RPID:            biometric.DefaultRPID,
			RPDisplayName:   biometric.DefaultRPDisplayName,
			Origin:          biometric.DefaultOrigin,
			Timeout:         Duration(biometric.DefaultTimeout),
			MaxAttempts:     biometric.DefaultMaxAttempts,
			LockoutDuration: Duration(biometric.DefaultLockoutDuration),
			SampleInterval:  Duration(biometric.DefaultSampleInterval),
			SensorClass:     string(types.StrengthStrong),
		},
		Vault: VaultConfig{
			RecordKey: vault.DefaultRecordKey,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Listen:    "127.0.0.1:8420",
			RateLimit: 10,
			RateBurst: 20,
		},
		Metrics: MetricsConfig{
			Enabled:          true,
			Path:             "/metrics",
			ResourceInterval: Duration(15 * time.Second),
		},
	}
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"data-dir":   "storage.path",
	"storage":    "storage.backend",
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"listen":     "server.listen",
}

// Load builds the configuration. An empty path reads FileName from the data
// directory if it exists. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	defaults, err := Default().Marshal()
	if err != nil {
		return nil, err
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	// Omitted from rendered YAML, still overridable from the environment
	v.SetDefault("keystore.passphrase", "")

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		candidate := filepath.Join(v.GetString("storage.path"), FileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.TextUnmarshallerHookFunc())); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return data, nil
}

// WriteFile writes the configuration to path, owner read/write only. An
// existing file is only replaced when overwrite is true.
func (c *Config) WriteFile(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the file backend")
		}
	case StorageMemory:
	case StorageKeyring:
		if c.Storage.KeyringService == "" {
			return fmt.Errorf("storage keyring_service must be specified for the keyring backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %q (must be file, memory, or keyring)", c.Storage.Backend)
	}

	switch c.Keystore.Storage {
	case StorageKeyring:
		if c.Storage.KeyringService == "" {
			return fmt.Errorf("storage keyring_service must be specified for the keyring key store")
		}
	case StorageMemory:
		if c.Storage.Backend != StorageMemory {
			return fmt.Errorf("keystore storage memory requires storage backend memory")
		}
	default:
		return fmt.Errorf("invalid keystore storage: %q (must be keyring or memory)", c.Keystore.Storage)
	}

	if err := validation.ValidateName(c.Keystore.KeyName); err != nil {
		return fmt.Errorf("invalid keystore key_name %q: %w", c.Keystore.KeyName, err)
	}
	if c.Keystore.GrantTTL <= 0 {
		return fmt.Errorf("keystore grant_ttl must be positive")
	}

	if c.Biometric.RPID == "" {
		return fmt.Errorf("biometric rp_id must be specified")
	}
	origin, err := url.Parse(c.Biometric.Origin)
	if err != nil || (origin.Scheme != "https" && origin.Scheme != "http") || origin.Host == "" {
		return fmt.Errorf("invalid biometric origin: %q", c.Biometric.Origin)
	}
	if c.Biometric.Timeout <= 0 {
		return fmt.Errorf("biometric timeout must be positive")
	}
	if c.Biometric.MaxAttempts < 1 {
		return fmt.Errorf("biometric max_attempts must be at least 1")
	}
	if c.Biometric.LockoutDuration <= 0 {
		return fmt.Errorf("biometric lockout_duration must be positive")
	}
	if c.Biometric.SampleInterval <= 0 {
		return fmt.Errorf("biometric sample_interval must be positive")
	}
	if _, err := types.ParseStrength(c.Biometric.SensorClass); err != nil {
		return fmt.Errorf("invalid biometric sensor_class: %w", err)
	}

	if err := validation.ValidateName(c.Vault.RecordKey); err != nil {
		return fmt.Errorf("invalid vault record_key %q: %w", c.Vault.RecordKey, err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address must be specified")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst < 1 {
		return fmt.Errorf("server rate_limit and rate_burst must be positive")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics path: %q", c.Metrics.Path)
	}
	if c.Metrics.Enabled && c.Metrics.ResourceInterval <= 0 {
		return fmt.Errorf("metrics resource_interval must be positive")
	}
	return nil
}
