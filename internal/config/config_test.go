package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 60, cfg.Reminder.WindowMinutes)
	assert.Equal(t, 3, cfg.Feed.DefaultMonths)
	assert.False(t, cfg.Visits.ResetMarkerOnReschedule)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
listen: ":9090"
store:
  driver: cassandra
reminder:
  window_minutes: 9000
  send_enabled: true
feed:
  default_months: 99
visits:
  reset_marker_on_reschedule: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 1440, cfg.Reminder.WindowMinutes)
	assert.True(t, cfg.Reminder.SendEnabled)
	assert.Equal(t, 36, cfg.Feed.DefaultMonths)
	assert.True(t, cfg.Visits.ResetMarkerOnReschedule)
	assert.Equal(t, "Asia/Bangkok", cfg.Timezone)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Sender.Kind = "sms"
	cfg.Sender.Recipients = []string{"0810000000"}
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sms", got.Sender.Kind)
	assert.Equal(t, []string{"0810000000"}, got.Sender.Recipients)
}

func TestApplyEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VISITCAL_DATABASE_URL", "postgres://u:p@localhost/visits")
	t.Setenv("VISITCAL_REMINDER_SECRET", "s3cret")
	t.Setenv("VISITCAL_REDIS_ADDR", "r1:6379, r2:6379")
	t.Setenv("VISITCAL_SEND_ENABLED", "true")
	t.Setenv("VISITCAL_WEBHOOK_URL", "https://hooks.example.com/x")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://u:p@localhost/visits", cfg.Store.DSN)
	assert.Equal(t, "s3cret", cfg.Reminder.Secret)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Redis.Addrs)
	assert.True(t, cfg.Reminder.SendEnabled)
	assert.Equal(t, "webhook", cfg.Sender.Kind)
}
