package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// configFileName is the optional YAML overlay loaded from the working
// directory. Environment variables always win over file values.
const configFileName = "venddesk.yaml"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Hub       HubConfig       `yaml:"hub"`
	Licensing LicensingConfig `yaml:"licensing"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Output   string `yaml:"output" envconfig:"LOG_OUTPUT" validate:"oneof=stdout file both"`
	FilePath string `yaml:"file_path" envconfig:"LOG_FILE_PATH"`
}

// HubConfig describes how to reach the licensing Hub
type HubConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"HUB_BASE_URL" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" envconfig:"HUB_TIMEOUT" validate:"min=1s"`
}

// LicensingConfig contains license validation and renewal configuration.
// TenantID and DeviceID identify this installation to the Hub; both empty
// is a valid state (the setup flow fills them in), so neither is required.
type LicensingConfig struct {
	Enforced           bool   `yaml:"enforced" envconfig:"LICENSING_ENFORCED"`
	OfflineGraceDays   int    `yaml:"offline_grace_days" envconfig:"OFFLINE_GRACE_DAYS" validate:"min=0"`
	RenewIntervalHours int    `yaml:"renew_interval_hours" envconfig:"RENEW_INTERVAL_HOURS" validate:"min=1"`
	PublicKeyPEM       string `yaml:"public_key_pem" envconfig:"LICENSE_PUBLIC_KEY_PEM"`
	TenantID           string `yaml:"tenant_id" envconfig:"TENANT_ID"`
	DeviceID           string `yaml:"device_id" envconfig:"DEVICE_ID"`
}

// StorageConfig contains credential storage configuration
type StorageConfig struct {
	KeyringService string `yaml:"keyring_service" envconfig:"KEYRING_SERVICE" validate:"required"`
	CredentialFile string `yaml:"credential_file" envconfig:"CREDENTIAL_FILE"`
}

// Default returns the configuration defaults applied before the YAML
// overlay and environment variables.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/venddesk.log",
		},
		Hub: HubConfig{
			BaseURL: "http://localhost:8090",
			Timeout: 10 * time.Second,
		},
		Licensing: LicensingConfig{
			Enforced:           true,
			OfflineGraceDays:   7,
			RenewIntervalHours: 6,
		},
		Storage: StorageConfig{
			KeyringService: "venddesk-license",
		},
	}
}

// Load builds the configuration in three layers: defaults, optional YAML
// file, environment variables. The result is validated before use.
func Load() (*Config, error) {
	cfg := Default()

	if path := findConfigFile(); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration against the struct validation rules
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// HasIdentity reports whether this installation knows who it is. Without a
// tenant and device identity the licensing service can only answer
// not_registered and the setup flow must run first.
func (c *LicensingConfig) HasIdentity() bool {
	return c.TenantID != "" && c.DeviceID != ""
}

// RenewInterval returns the scheduler interval as a duration
func (c *LicensingConfig) RenewInterval() time.Duration {
	return time.Duration(c.RenewIntervalHours) * time.Hour
}

// OfflineGrace returns the configured fallback grace window as a duration
func (c *LicensingConfig) OfflineGrace() time.Duration {
	return time.Duration(c.OfflineGraceDays) * 24 * time.Hour
}

func findConfigFile() string {
	// Working directory first, then the executable's directory
	if FileExists(configFileName) {
		return configFileName
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), configFileName)
		if FileExists(candidate) {
			return candidate
		}
	}
	return ""
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// resolvePaths fills in path defaults that depend on the user profile
// directory and cannot be expressed as static defaults.
func (c *Config) resolvePaths() error {
	if c.Storage.CredentialFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve user home directory: %w", err)
		}
		c.Storage.CredentialFile = filepath.Join(home, ".venddesk", "license.cred")
	}
	return nil
}

// FileExists reports whether the given path exists and is a regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
