package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields (check.scan_timeout, backoff.base, notify.auto_close,
// ...) are carried as Go duration strings in the config file. They stay
// strings on the Config struct so Normalize can report the raw value;
// these helpers do the conversion at the point of use.

// ParseDurationField parses one duration-valued config field. Empty
// means unset (0); negative values are rejected, since no timer knob
// here has a meaningful negative.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// unset fields, for knobs where zero means "use the documented default"
// rather than "disabled".
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
