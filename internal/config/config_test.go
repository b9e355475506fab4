package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "postwatch/pkg/logx"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalJSON = `{
  "source": {
    "base_url": "https://forum.example.com",
    "username": "bot",
    "password": "secret"
  }
}`

func TestLoadMinimalJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://forum.example.com", cfg.Source.BaseURL)
	assert.Same(t, cfg, m.Get())
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", `
source:
  base_url: https://forum.example.com
  username: bot
  password: secret
  page_size: 50
check:
  schedule: 10m
  scan_timeout: 90s
backoff:
  base: 15s
  max: 2m
  failure_threshold: 5
notify:
  auto_close: 30s
  rate_per_sec: 3
storage:
  driver: sqlite
  path: ./posts.db
`))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Source.PageSize)
	assert.Equal(t, "10m", cfg.Check.Schedule)
	assert.Equal(t, "90s", cfg.Check.ScanTimeout)
	assert.Equal(t, 5, cfg.Backoff.FailureThreshold)
	assert.Equal(t, "30s", cfg.Notify.AutoClose)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{
  "source": {"base_url": "x", "username": "u", "password": "p"},
  "tyop": true
}`))
	_, err := m.Parse()
	require.Error(t, err)
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON+` {"extra": 1}`))
	_, err := m.Parse()
	require.Error(t, err)
}

func TestValidateMissingCredentials(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{
  "source": {"base_url": "https://forum.example.com"}
}`))
	_, err := m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username")
}

func TestValidatePageSizeBounds(t *testing.T) {
	t.Parallel()
	cfg := &Config{Source: SourceConfig{
		BaseURL: "x", Username: "u", Password: "p", PageSize: 9000,
	}}
	require.Error(t, cfg.Validate())
}

func TestNormalizeFallsBackSoftFields(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Source:  SourceConfig{BaseURL: "x", Username: "u", Password: "p"},
		Check:   CheckConfig{ScanTimeout: "soonish", FullEveryN: -1},
		Backoff: BackoffConfig{Base: "-10s", FailureThreshold: -2},
		Notify:  NotifyConfig{RatePerSec: -1},
		Storage: StorageConfig{Driver: "mongodb"},
	}
	errs := cfg.Normalize(logx.Nop())

	assert.Len(t, errs, 6)
	assert.Empty(t, cfg.Check.ScanTimeout, "unparseable duration cleared to default")
	assert.Empty(t, cfg.Backoff.Base)
	assert.Zero(t, cfg.Check.FullEveryN)
	assert.Zero(t, cfg.Backoff.FailureThreshold)
	assert.Zero(t, cfg.Notify.RatePerSec)
	assert.Empty(t, cfg.Storage.Driver)
}

func TestNormalizeKeepsValidValues(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Check:   CheckConfig{ScanTimeout: "2m", FullEveryN: 10},
		Backoff: BackoffConfig{Base: "30s", Max: "5m", FailureThreshold: 3},
		Storage: StorageConfig{Driver: "sqlite"},
	}
	errs := cfg.Normalize(logx.Nop())
	assert.Empty(t, errs)
	assert.Equal(t, "2m", cfg.Check.ScanTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("check.scan_timeout", "90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDurationField("check.scan_timeout", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("check.scan_timeout", "soonish")
	require.Error(t, err)
	_, err = ParseDurationField("check.scan_timeout", "-5s")
	require.Error(t, err)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("backoff.base", "30s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseDurationOrDefault("backoff.base", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseDurationOrDefault("backoff.base", "bogus", time.Minute)
	require.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", minimalJSON)
	m := NewManager(path)
	m.SetLogger(logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond) // let the watcher attach

	updated := `{
  "source": {
    "base_url": "https://forum.example.com",
    "username": "bot",
    "password": "secret"
  },
  "check": {"schedule": "1m"}
}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-sub:
		assert.Equal(t, "1m", cfg.Check.Schedule)
		assert.Equal(t, "1m", m.Get().Check.Schedule)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", minimalJSON)
	m := NewManager(path)
	m.SetLogger(logx.Nop())
	committed, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Broken edit: credentials removed. The running config must survive.
	require.NoError(t, os.WriteFile(path, []byte(`{"source": {"base_url": "x"}}`), 0o600))

	select {
	case <-sub:
		t.Fatal("invalid config must not be published")
	case <-time.After(600 * time.Millisecond):
	}
	assert.Same(t, committed, m.Get())
}
