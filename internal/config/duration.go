package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration. Empty means 0.
func ParseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// durationOr returns def for an empty, zero or invalid value. Values are
// checked by Validate before they reach here.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (t TwitchConfig) HTTPTimeoutDuration() time.Duration { return durationOr(t.HTTPTimeout, 0) }

func (t TwitchConfig) RateLimitFallbackDuration() time.Duration {
	return durationOr(t.RateLimitFallback, 0)
}

func (c ChatConfig) ReconnectDelayDuration() time.Duration {
	return durationOr(c.ReconnectDelay, 2*time.Second)
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration { return durationOr(s.BusyTimeout, 0) }
