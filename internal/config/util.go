package config

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// ParseSize parses a human-readable size string into bytes.
// Supports formats: "100", "1K", "1MB", "1GiB", etc.
func ParseSize(s string) (int64, error) {
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if bytes > 1<<62 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return int64(bytes), nil
}

// ValidateGlobPatterns checks that all patterns are valid filepath.Match patterns.
func ValidateGlobPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}
