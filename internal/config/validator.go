package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	sifterrors "github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/types"
)

// Upper bounds accepted by the validator
const (
	MaxConcurrency = 256
	MaxFileSizeCap = 100 * 1024 * 1024
)

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults applies defaults for unset values and then validates.
// Returns a *errors.ConfigError naming the offending field.
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	v.setSmartDefaults(cfg)

	if cfg.Project.Root == "" {
		return sifterrors.NewConfigError("project.root", "", errors.New("project root cannot be empty"))
	}

	if err := v.validateSearchConfig(&cfg.Search); err != nil {
		return err
	}

	if cfg.Watch.DebounceMs < 0 {
		return sifterrors.NewConfigError("watch.debounce_ms", strconv.Itoa(cfg.Watch.DebounceMs),
			errors.New("cannot be negative"))
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return sifterrors.NewConfigError("metrics.address", "", errors.New("required when metrics are enabled"))
	}

	for _, pattern := range append(append([]string{}, cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return sifterrors.NewConfigError("pattern", pattern, errors.New("invalid glob pattern"))
		}
	}

	return nil
}

func (v *Validator) validateSearchConfig(search *Search) error {
	if search.Concurrency < 1 || search.Concurrency > MaxConcurrency {
		return sifterrors.NewConfigError("search.concurrency", strconv.Itoa(search.Concurrency),
			fmt.Errorf("must be between 1 and %d", MaxConcurrency))
	}

	if search.EventBuffer < 0 {
		return sifterrors.NewConfigError("search.event_buffer", strconv.Itoa(search.EventBuffer),
			errors.New("cannot be negative"))
	}

	if search.RegexCacheSize < 0 {
		return sifterrors.NewConfigError("search.regex_cache_size", strconv.Itoa(search.RegexCacheSize),
			errors.New("cannot be negative"))
	}

	if search.MaxFileSize <= 0 || search.MaxFileSize > MaxFileSizeCap {
		return sifterrors.NewConfigError("search.max_file_size", strconv.FormatInt(search.MaxFileSize, 10),
			fmt.Errorf("must be positive and at most %d bytes", MaxFileSizeCap))
	}

	return nil
}

// setSmartDefaults fills zero values
func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Search.Concurrency == 0 {
		cfg.Search.Concurrency = defaultConcurrency()
	}
	if cfg.Search.EventBuffer == 0 {
		cfg.Search.EventBuffer = types.DefaultEventBuffer
	}
	if cfg.Search.MaxFileSize == 0 {
		cfg.Search.MaxFileSize = types.DefaultMaxFileSize
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = 300
	}
	cfg.Include = trimPatterns(cfg.Include)
	cfg.Exclude = trimPatterns(cfg.Exclude)
}

func trimPatterns(patterns []string) []string {
	out := patterns[:0]
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	return NewValidator().ValidateAndSetDefaults(cfg)
}
