// Package errors defines the error taxonomy shared by the dataset engine and
// small helpers for wrapping errors with context. All errors are sentinels
// meant to be matched with errors.Is.
package errors

import "fmt"

// Engine errors.
var (
	// ErrInvalidPrefix is returned when a prefix is empty or would escape the data root.
	ErrInvalidPrefix = fmt.Errorf("invalid dataset prefix")

	// ErrInvalidDescriptor is returned when a descriptor violates its invariants.
	ErrInvalidDescriptor = fmt.Errorf("invalid dataset descriptor")

	// ErrFetch is returned when every mirror of an artifact failed.
	ErrFetch = fmt.Errorf("fetch failed")

	// ErrIntegrity is returned when an artifact does not match its expected checksum.
	ErrIntegrity = fmt.Errorf("integrity check failed")

	// ErrExtraction is returned when an archive cannot be unpacked.
	ErrExtraction = fmt.Errorf("extraction failed")

	// ErrPathTraversal is returned when an archive entry resolves outside the extract directory.
	// Errors carrying it also match ErrExtraction.
	ErrPathTraversal = fmt.Errorf("%w: path traversal", ErrExtraction)

	// ErrIO is returned on local disk failures.
	ErrIO = fmt.Errorf("i/o error")

	// ErrCancelled is returned when the caller's context ended before the dataset was ready.
	ErrCancelled = fmt.Errorf("cancelled")

	// ErrLockTimeout is returned when the per-prefix cache lock could not be acquired in time.
	ErrLockTimeout = fmt.Errorf("timed out waiting for cache lock")

	// ErrInvalidChecksum is returned when an expected checksum cannot be parsed.
	ErrInvalidChecksum = fmt.Errorf("invalid checksum")
)

// Catalog errors.
var (
	ErrDatasetNotFound = fmt.Errorf("dataset not found")
	ErrUnknownPathKey  = fmt.Errorf("unknown path key")
	ErrCatalogVersion  = fmt.Errorf("unsupported catalog version")
	ErrCatalogParse    = fmt.Errorf("failed to parse catalog")
	ErrDuplicateName   = fmt.Errorf("duplicate dataset name")
)

// Config errors.
var (
	ErrEmptyConfigPath    = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath  = fmt.Errorf("invalid config file path")
	ErrConfigParse        = fmt.Errorf("failed to parse config")
	ErrConfigValidation   = fmt.Errorf("invalid configuration")
	ErrConfigEncode       = fmt.Errorf("failed to encode config")
	ErrConfigDirectory    = fmt.Errorf("failed to create config directory")
	ErrConfigFileCreate   = fmt.Errorf("failed to create config file")
	ErrConfigFileRename   = fmt.Errorf("failed to rename temporary config file")
	ErrConfigFileExists   = fmt.Errorf("configuration file already exists (use --force to overwrite)")
	ErrUnknownConfigKey   = fmt.Errorf("unknown configuration key")
	ErrInvalidLogLevel    = fmt.Errorf("invalid log level")
	ErrInvalidAlgorithm   = fmt.Errorf("unsupported checksum algorithm")
	ErrInvalidOutput      = fmt.Errorf("invalid output format")
	ErrNegativeDuration   = fmt.Errorf("duration cannot be negative")
	ErrMaxConcurrentValue = fmt.Errorf("max_concurrent must be at least 1")
)

// Cache errors.
var (
	ErrCacheDirectory = fmt.Errorf("cache directory cannot be empty")
	ErrCacheClean     = fmt.Errorf("failed to clean cache")
)

// Wrap wraps an error with additional context.
// If err is nil, Wrap returns nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
// If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Tag marks err with the sentinel kind while keeping err itself in the chain,
// so both errors.Is(result, kind) and errors.Is(result, err) hold.
func Tag(kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// ErrInvalidLogLevelWithDetails creates an error naming the invalid level and the valid options.
func ErrInvalidLogLevelWithDetails(level string) error {
	return fmt.Errorf("%w: '%s', must be one of: debug, info, warn, error", ErrInvalidLogLevel, level)
}

// ErrInvalidAlgorithmWithDetails creates an error naming the invalid algorithm and the valid options.
func ErrInvalidAlgorithmWithDetails(alg string, valid []string) error {
	return fmt.Errorf("%w: '%s', must be one of: %v", ErrInvalidAlgorithm, alg, valid)
}

// ErrDatasetNotFoundWithName creates an error for a dataset name missing from the catalog.
func ErrDatasetNotFoundWithName(name string) error {
	return fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
}
