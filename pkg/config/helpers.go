package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/glorpus-work/datasets/pkg/errors"
)

// SetValue sets a configuration value by key
// Supported keys:
//   - data_root, catalog_path, user_agent: string
//   - http_timeout, lock_timeout: duration (e.g. 30s, 5m)
//   - max_concurrent: int
//   - checksum_algorithm: sha256, sha384, sha512, md5
//   - log_level: debug, info, warn, error
//   - output_format: text, json
//
// The resulting configuration is validated; on error c is left unchanged.
func (c *Config) SetValue(key, value string) error {
	next := *c
	s := &next.Settings

	switch key {
	case "data_root":
		s.DataRoot = value
	case "catalog_path":
		s.CatalogPath = value
	case "user_agent":
		s.UserAgent = value
	case "http_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %s", key, value)
		}
		s.HTTPTimeout = d
	case "lock_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %s", key, value)
		}
		s.LockTimeout = d
	case "max_concurrent":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %s", key, value)
		}
		s.MaxConcurrent = n
	case "checksum_algorithm":
		s.ChecksumAlgorithm = strings.ToLower(value)
	case "log_level":
		s.LogLevel = strings.ToLower(value)
	case "output_format":
		s.OutputFormat = value
	default:
		return errors.Wrap(errors.ErrUnknownConfigKey, key)
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// GetValue returns the value of key as a string.
func (c *Config) GetValue(key string) (string, error) {
	s := c.Settings
	switch key {
	case "data_root":
		return s.DataRoot, nil
	case "catalog_path":
		return s.CatalogPath, nil
	case "user_agent":
		return s.UserAgent, nil
	case "http_timeout":
		return s.HTTPTimeout.String(), nil
	case "lock_timeout":
		return s.LockTimeout.String(), nil
	case "max_concurrent":
		return strconv.Itoa(s.MaxConcurrent), nil
	case "checksum_algorithm":
		return s.ChecksumAlgorithm, nil
	case "log_level":
		return s.LogLevel, nil
	case "output_format":
		return s.OutputFormat, nil
	default:
		return "", errors.Wrap(errors.ErrUnknownConfigKey, key)
	}
}

// Keys returns the supported setting keys in declaration order.
func Keys() []string {
	t := reflect.TypeOf(Settings{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		keys = append(keys, strings.Split(tag, ",")[0])
	}
	return keys
}

// ToMap returns every setting as a string keyed by name.
func (c *Config) ToMap() map[string]string {
	result := make(map[string]string)
	for _, key := range Keys() {
		value, err := c.GetValue(key)
		if err != nil {
			continue
		}
		result[key] = value
	}
	return result
}
