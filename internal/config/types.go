package config

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	logx "postwatch/pkg/logx"
)

// Config is the full application configuration.
//
// All durations are Go duration strings (e.g. "30s", "5m"). Files may be
// JSON or YAML; YAML is coerced to JSON before the strict decode.
type Config struct {
	Source  SourceConfig  `json:"source"`
	Check   CheckConfig   `json:"check,omitempty"`
	Backoff BackoffConfig `json:"backoff,omitempty"`
	Notify  NotifyConfig  `json:"notify,omitempty"`
	Storage StorageConfig `json:"storage,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// SourceConfig points at the remote feed.
type SourceConfig struct {
	BaseURL   string `json:"base_url"`
	LoginPath string `json:"login_path,omitempty"` // default "/login"
	FeedPath  string `json:"feed_path,omitempty"`  // default "/feed"
	PageSize  int    `json:"page_size,omitempty"`  // default 20
	Username  string `json:"username"`
	Password  string `json:"password"` // do not log
}

// CheckConfig controls scan cadence.
//
// Defaults (when fields are omitted/invalid):
//   - schedule: "5m"
//   - scan_timeout: "2m"
//   - full_every_n: 0 (disabled)
type CheckConfig struct {
	// Schedule accepts a Go duration ("5m") or a cron spec ("*/5 * * * *").
	Schedule string `json:"schedule,omitempty"`

	// ScanTimeout is the hard ceiling for one whole scan.
	ScanTimeout string `json:"scan_timeout,omitempty"`

	// FullEveryN forces every Nth scan to full mode. Hedge against the
	// feed backfilling older items.
	FullEveryN int `json:"full_every_n,omitempty"`
}

// BackoffConfig controls failure recovery.
//
// Defaults: base "30s", max "5m", failure_threshold 3.
type BackoffConfig struct {
	Base             string `json:"base,omitempty"`
	Max              string `json:"max,omitempty"`
	FailureThreshold int    `json:"failure_threshold,omitempty"`
}

// NotifyConfig controls notification timers and pacing.
//
// Defaults: auto_close "0s" (disabled), per_toast_auto_close "0s"
// (disabled), rate_per_sec 2.
type NotifyConfig struct {
	// AutoClose arms the shared close-all countdown after a burst of new
	// posts. "0s" disables.
	AutoClose string `json:"auto_close,omitempty"`

	// PerToastAutoClose expires each notification individually. "0s"
	// disables.
	PerToastAutoClose string `json:"per_toast_auto_close,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the known-item store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./postwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path        string `json:"path,omitempty"`   // default "./known_posts.json"
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Validate applies the hard rules: fields with no sensible default must
// be present and well-formed. Soft (defaultable) fields are handled by
// Normalize instead.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	return validation.ValidateStruct(c)
}

func (c *SourceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.Username, validation.Required),
		validation.Field(&c.Password, validation.Required),
		validation.Field(&c.PageSize, validation.Min(0), validation.Max(500)),
	)
}

// Normalize replaces out-of-range or unparseable soft values with their
// documented defaults, logging each substitution. It never silently
// clamps.
func (c *Config) Normalize(log logx.Logger) []*ValidationError {
	var errs []*ValidationError
	fallback := func(field, raw string, err error) {
		ve := &ValidationError{Field: field, Value: raw, Err: err}
		errs = append(errs, ve)
		if !log.IsZero() {
			log.Warn("invalid config value, using default",
				logx.String("field", field), logx.String("value", raw), logx.Err(err))
		}
	}

	// check.schedule is validated where it is parsed (app wiring), since
	// the cron grammar lives with the scheduler.
	checkDuration("check.scan_timeout", &c.Check.ScanTimeout, fallback)
	checkDuration("backoff.base", &c.Backoff.Base, fallback)
	checkDuration("backoff.max", &c.Backoff.Max, fallback)
	checkDuration("notify.auto_close", &c.Notify.AutoClose, fallback)
	checkDuration("notify.per_toast_auto_close", &c.Notify.PerToastAutoClose, fallback)
	checkDuration("storage.busy_timeout", &c.Storage.BusyTimeout, fallback)

	if c.Check.FullEveryN < 0 {
		fallback("check.full_every_n", fmt.Sprint(c.Check.FullEveryN), errOutOfRange)
		c.Check.FullEveryN = 0
	}
	if c.Backoff.FailureThreshold < 0 {
		fallback("backoff.failure_threshold", fmt.Sprint(c.Backoff.FailureThreshold), errOutOfRange)
		c.Backoff.FailureThreshold = 0
	}
	if c.Notify.RatePerSec < 0 {
		fallback("notify.rate_per_sec", fmt.Sprint(c.Notify.RatePerSec), errOutOfRange)
		c.Notify.RatePerSec = 0
	}
	if d := c.Storage.Driver; d != "" && d != "file" && d != "sqlite" && d != "sqlite3" {
		fallback("storage.driver", d, errOutOfRange)
		c.Storage.Driver = ""
	}
	return errs
}

func checkDuration(field string, raw *string, fallback func(string, string, error)) {
	if *raw == "" {
		return
	}
	if _, err := ParseDurationField(field, *raw); err != nil {
		fallback(field, *raw, err)
		*raw = ""
	}
}
