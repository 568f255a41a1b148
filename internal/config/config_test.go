package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
http:
  addr: ":3000"
channel:
  base_url: "${LEADBOT_TEST_GATEWAY}"
  token: "${LEADBOT_TEST_TOKEN}"
backend:
  base_url: "http://backend.local"
  fetch_path: "/lead/application/without"
  mark_field: "lastMessageApplication"
phone:
  marker_policy: strip
hours:
  timezone: America/Sao_Paulo
  open: 7
  close: 23
outreach:
  quota: 3
  max_attempts: 10
  lead_delay: 3s
messages:
  outreach: "Olá {{.Name}}, custa R$ 0"
storage:
  driver: file
  path: ./data/leadbot
`

func TestParseBytesYAMLWithEnv(t *testing.T) {
	t.Setenv("LEADBOT_TEST_GATEWAY", "http://gw.local:21465")
	t.Setenv("LEADBOT_TEST_TOKEN", "secret")

	cfg, err := ParseBytes("leadbot.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://gw.local:21465", cfg.Channel.BaseURL)
	assert.Equal(t, "secret", cfg.Channel.Token)
	assert.Equal(t, "lastMessageApplication", cfg.Backend.MarkField)
	assert.Equal(t, 3, cfg.Outreach.Quota)
	require.NotNil(t, cfg.Hours.Open)
	assert.Equal(t, 7, *cfg.Hours.Open)
	assert.Equal(t, "Olá {{.Name}}, custa R$ 0", cfg.Messages.Outreach)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "file", cfg.Storage.Driver)
}

func TestParseBytesRejectsUnknownFields(t *testing.T) {
	_, err := ParseBytes("leadbot.yaml", []byte("outreach:\n  quotaa: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quotaa")
}

func TestParseBytesRejectsTrailingJSON(t *testing.T) {
	_, err := ParseBytes("leadbot.json", []byte(`{"http":{"addr":":1"}}{"http":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
	assert.NotContains(t, err.Error(), "unknown field")

	_, err = ParseBytes("leadbot.json", []byte(`{"http":{"addr":":1"}} garbage`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")

	cfg, err := ParseBytes("leadbot.json", []byte("{\"http\":{\"addr\":\":1\"}}\n\n"))
	require.NoError(t, err)
	assert.Equal(t, ":1", cfg.HTTP.Addr)
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("outreach.retry_delay", "4s")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, d)

	d, err = ParseDurationField("x", "  ")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)

	_, err = ParseDurationField("x", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x: \"soon\" is not a duration")

	d, err = ParseDurationOrDefault("x", "", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)
	d, err = ParseDurationOrDefault("x", "0s", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	d, err = ParseDurationOr("x", "0s", 2*time.Second)
	require.NoError(t, err)
	assert.Zero(t, d)
	d, err = ParseDurationOr("x", "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
}

func TestParseBytesEmptyYAML(t *testing.T) {
	cfg, err := ParseBytes("leadbot.yml", []byte("# nothing yet\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.HTTP.Addr)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Outreach: OutreachConfig{Quota: 1}, HTTP: HTTPConfig{Addr: ":3000"}}
	newCfg := &Config{Outreach: OutreachConfig{Quota: 3}, HTTP: HTTPConfig{Addr: ":8080"}}

	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"http", "outreach"}, changed)
	assert.Equal(t, []string{"http"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, restart = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, restart)
}

func TestReloadValidatesAndPublishes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leadbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("outreach:\n  quota: 1\n"), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Outreach.Quota > 5 {
			return errors.New("quota too large")
		}
		return nil
	})

	// unchanged content: nothing published
	m.reload(context.Background())
	assert.Empty(t, sub)

	require.NoError(t, os.WriteFile(path, []byte("outreach:\n  quota: 9\n"), 0o600))
	m.reload(context.Background())
	assert.Empty(t, sub)
	assert.Equal(t, 1, m.Get().Outreach.Quota)

	require.NoError(t, os.WriteFile(path, []byte("outreach:\n  quota: 3\n"), 0o600))
	m.reload(context.Background())
	require.Len(t, sub, 1)
	got := <-sub
	assert.Equal(t, 3, got.Outreach.Quota)
	assert.Equal(t, 3, m.Get().Outreach.Quota)
}
