package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("ZOOM_WEBHOOK_SECRET_TOKEN", "topsecret")
	t.Setenv("ATTENDEE_BASE_URL", "https://attendee.example.com")
	t.Setenv("ATTENDEE_API_KEY", "key")
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err, "expected defaults plus required env to load")

	assert.Equal(t, 5005, cfg.Server.Port)
	assert.Equal(t, ":5005", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Attendee.Timeout, "expected 15s upstream timeout by default")
	assert.Equal(t, StoreDriverFile, cfg.Store.Driver)
	assert.Equal(t, "data", cfg.Store.Dir)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.False(t, cfg.Correlator.PersistTranscripts, "expected transcript persistence to be opt-in")
	assert.Equal(t, "topsecret", cfg.Zoom.WebhookSecret)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("CORS_ORIGIN", "http://a.example.com, http://b.example.com")
	t.Setenv("ATTENDEE_TIMEOUT", "3s")
	t.Setenv("STORE_DRIVER", "badger")
	t.Setenv("STORE_DIR", "/tmp/relay")
	t.Setenv("PERSIST_TRANSCRIPTS", "true")

	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"http://a.example.com", "http://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3*time.Second, cfg.Attendee.Timeout)
	assert.Equal(t, StoreDriverBadger, cfg.Store.Driver)
	assert.Equal(t, "/tmp/relay", cfg.Store.Dir)
	assert.True(t, cfg.Correlator.PersistTranscripts)
}

func TestLoad_FileAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	envPath := filepath.Join(dir, ".env")

	yaml := "server:\n  port: 7000\nstore:\n  driver: postgres\n  dsn: postgres://localhost/relay\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	env := "ZOOM_WEBHOOK_SECRET_TOKEN=fromfile\nATTENDEE_BASE_URL=https://attendee.example.com\nATTENDEE_API_KEY=key\n"
	require.NoError(t, os.WriteFile(envPath, []byte(env), 0o600))

	// godotenv does not clobber variables that are already set, so make sure
	// the secret only comes from the file.
	os.Unsetenv("ZOOM_WEBHOOK_SECRET_TOKEN")
	t.Cleanup(func() {
		os.Unsetenv("ZOOM_WEBHOOK_SECRET_TOKEN")
		os.Unsetenv("ATTENDEE_BASE_URL")
		os.Unsetenv("ATTENDEE_API_KEY")
	})

	cfg, err := Load(cfgPath, envPath)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/relay", cfg.Store.DSN)
	assert.Equal(t, "fromfile", cfg.Zoom.WebhookSecret)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Zoom.WebhookSecret = "topsecret"
		cfg.Attendee.BaseURL = "https://attendee.example.com"
		cfg.Attendee.APIKey = "key"
		return cfg
	}

	tcases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:   "missing webhook secret",
			mutate: func(c *Config) { c.Zoom.WebhookSecret = "" },
			errMsg: "WebhookSecret",
		},
		{
			name:   "missing provider key",
			mutate: func(c *Config) { c.Attendee.APIKey = "" },
			errMsg: "APIKey",
		},
		{
			name:   "invalid provider url",
			mutate: func(c *Config) { c.Attendee.BaseURL = "not a url" },
			errMsg: "BaseURL",
		},
		{
			name:   "unknown store driver",
			mutate: func(c *Config) { c.Store.Driver = "sqlite" },
			errMsg: "Driver",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Store.Driver = StoreDriverPostgres
				c.Store.Dir = ""
			},
			errMsg: "DSN",
		},
		{
			name:   "port out of range",
			mutate: func(c *Config) { c.Server.Port = 70000 },
			errMsg: "Port",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err, "expected no error for config: %s", tc.name)
				return
			}
			assert.Error(t, err, "expected error for config: %s", tc.name)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
