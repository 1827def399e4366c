package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/datasets/internal/logger"
	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/fsutil"
	"github.com/glorpus-work/datasets/pkg/verify"
)

const (
	// YAMLIndent is the indentation used when writing the config file.
	YAMLIndent = 2

	// ConfigFileName is the name of the config file inside the config directory.
	ConfigFileName = "config.yaml"

	// CatalogFileName is the name of the default catalog file inside the config directory.
	CatalogFileName = "catalog.yaml"

	DefaultHTTPTimeout   = 30 * time.Minute
	DefaultLockTimeout   = 0
	DefaultMaxConcurrent = 4
	DefaultUserAgent     = "datasets/1.0"
	DefaultLogLevel      = "info"
	DefaultOutputFormat  = "text"
)

// Config represents the application configuration
type Config struct {
	Settings Settings `yaml:"settings"`
}

// Settings represents general application settings
type Settings struct {
	// Storage
	DataRoot    string `yaml:"data_root,omitempty"`
	CatalogPath string `yaml:"catalog_path,omitempty"`

	// Network
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	UserAgent   string        `yaml:"user_agent"`

	// Concurrency; a zero lock timeout waits forever
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`

	// Integrity
	ChecksumAlgorithm string `yaml:"checksum_algorithm"`

	// Output
	LogLevel     string `yaml:"log_level"`     // debug, info, warn, error
	OutputFormat string `yaml:"output_format"` // text, json
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			HTTPTimeout:       DefaultHTTPTimeout,
			UserAgent:         DefaultUserAgent,
			LockTimeout:       DefaultLockTimeout,
			MaxConcurrent:     DefaultMaxConcurrent,
			ChecksumAlgorithm: string(verify.DefaultAlgorithm),
			LogLevel:          DefaultLogLevel,
			OutputFormat:      DefaultOutputFormat,
		},
	}
}

// LoadConfig loads configuration from a file.
// A missing file yields the default configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Tag(errors.ErrInvalidConfigPath, errors.Wrap(err, path))
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debugf("No config file at %s, using defaults", absPath)
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Tag(errors.ErrConfigParse, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, errors.Tag(errors.ErrConfigValidation, err)
	}

	return config, nil
}

// SaveConfig writes the configuration to path through a temporary file
// in the same directory.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, fsutil.DirModeDefault); err != nil {
		return errors.Tag(errors.ErrConfigDirectory, errors.Wrap(err, dir))
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Tag(errors.ErrConfigFileCreate, errors.Wrap(err, path))
	}
	tempPath := file.Name()
	defer os.Remove(tempPath)

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(YAMLIndent)
	if err := encoder.Encode(c); err != nil {
		file.Close()
		return errors.Tag(errors.ErrConfigEncode, err)
	}
	if err := encoder.Close(); err != nil {
		file.Close()
		return errors.Tag(errors.ErrConfigEncode, err)
	}
	if err := file.Close(); err != nil {
		return errors.Tag(errors.ErrConfigFileCreate, errors.Wrap(err, path))
	}

	if err := os.Chmod(tempPath, fsutil.FileModeDefault); err != nil {
		return errors.Tag(errors.ErrConfigFileCreate, errors.Wrap(err, path))
	}
	if err := os.Rename(tempPath, path); err != nil {
		return errors.Tag(errors.ErrConfigFileRename, errors.Wrap(err, path))
	}

	return nil
}

// ToYAML returns the configuration as a YAML string
func (c *Config) ToYAML() (string, error) {
	var b strings.Builder
	encoder := yaml.NewEncoder(&b)
	encoder.SetIndent(YAMLIndent)
	if err := encoder.Encode(c); err != nil {
		return "", errors.Tag(errors.ErrConfigEncode, err)
	}
	if err := encoder.Close(); err != nil {
		return "", errors.Tag(errors.ErrConfigEncode, err)
	}
	return b.String(), nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	return c.validateSettings()
}

func (c *Config) validateSettings() error {
	s := c.Settings

	if s.HTTPTimeout < 0 {
		return errors.Wrap(errors.ErrNegativeDuration, "http_timeout")
	}
	if s.LockTimeout < 0 {
		return errors.Wrap(errors.ErrNegativeDuration, "lock_timeout")
	}
	if s.MaxConcurrent < 1 {
		return errors.ErrMaxConcurrentValue
	}

	if _, err := verify.ParseAlgorithm(s.ChecksumAlgorithm); err != nil {
		return errors.ErrInvalidAlgorithmWithDetails(s.ChecksumAlgorithm, verify.Algorithms())
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.ErrInvalidLogLevelWithDetails(s.LogLevel)
	}

	switch s.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: '%s', must be one of: text, json", errors.ErrInvalidOutput, s.OutputFormat)
	}

	return nil
}

// applyDefaults fills in values a config file may leave empty.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig().Settings

	if c.Settings.UserAgent == "" {
		c.Settings.UserAgent = defaults.UserAgent
	}
	if c.Settings.ChecksumAlgorithm == "" {
		c.Settings.ChecksumAlgorithm = defaults.ChecksumAlgorithm
	}
	c.Settings.ChecksumAlgorithm = strings.ToLower(c.Settings.ChecksumAlgorithm)
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = defaults.LogLevel
	}
	c.Settings.LogLevel = strings.ToLower(c.Settings.LogLevel)
	if c.Settings.OutputFormat == "" {
		c.Settings.OutputFormat = defaults.OutputFormat
	}
}

// DataRoot returns the configured default data root.
// $DATASETS_DATA_ROOT wins over the config file; an empty result means
// the platform default.
func (c *Config) DataRoot() string {
	if dir := os.Getenv(fsutil.DataRootEnv); dir != "" {
		return dir
	}
	return c.Settings.DataRoot
}

// CatalogPath returns the configured catalog file, falling back to
// catalog.yaml next to the default config file.
func (c *Config) CatalogPath() string {
	if c.Settings.CatalogPath != "" {
		return c.Settings.CatalogPath
	}
	dir, err := ConfigDir()
	if err != nil {
		return CatalogFileName
	}
	return filepath.Join(dir, CatalogFileName)
}

// ConfigDir returns the per-user config directory for the application.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fsutil.AppName), nil
}

// GetDefaultConfigPath returns the default path to the configuration file
func GetDefaultConfigPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return ConfigFileName
	}
	return filepath.Join(dir, ConfigFileName)
}
