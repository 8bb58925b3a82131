package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string from the field at path.
// Empty means unset and yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// durationOr returns the field value, or def when it is unset, zero or invalid.
// Validate reports invalid values before any accessor runs.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d == 0 {
		return def
	}
	return d
}
