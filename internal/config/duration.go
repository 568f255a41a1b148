package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string found at path. Blank means
// zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. 4s, 15m): %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", path, s)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for a blank or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// ParseDurationOr returns def only for a blank value. An explicit "0s" stays
// zero, which is how pacing delays are switched off.
func ParseDurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return ParseDurationField(path, raw)
}
