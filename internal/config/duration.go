package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollTimeout = 10 * time.Second
	DefaultBusyTimeout = 5 * time.Second
)

// PollDuration is telegram.poll_timeout, DefaultPollTimeout when unset.
func (t TelegramConfig) PollDuration() (time.Duration, error) {
	return durationOr("telegram.poll_timeout", t.PollTimeout, DefaultPollTimeout)
}

// BusyDuration is storage.busy_timeout, DefaultBusyTimeout when unset.
func (s StorageConfig) BusyDuration() (time.Duration, error) {
	return durationOr("storage.busy_timeout", s.BusyTimeout, DefaultBusyTimeout)
}

// durationOr parses a Go duration string such as "10s". Empty and zero
// values mean def; negative values are errors.
func durationOr(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration like \"10s\"", key, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
