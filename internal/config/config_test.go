//go:build unit

package config_test

import (
	"testing"
	"time"

	"github.com/muratdemir0/gopulse-mailer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("given a valid config file, it should load the config", func(t *testing.T) {
		cfg, err := config.Load("../../testdata/dev.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "gopulse-mailer", cfg.App.Name)
		assert.Equal(t, 8080, cfg.App.Port)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, "", cfg.Redis.Password)
		assert.Equal(t, 0, cfg.Redis.DB)
		assert.Equal(t, 12*time.Hour, cfg.Redis.ReceiptTTL)
		assert.Equal(t, 2*time.Minute, cfg.Queue.SendInterval)
		assert.Equal(t, uint(10), cfg.Queue.BatchSize)
		assert.Equal(t, 3, cfg.Queue.MaxRetryAttempts)
		assert.Equal(t, 60*time.Second, cfg.Queue.RetryDelay)
		assert.Equal(t, config.TransportSMTP, cfg.Transport.Driver)
		assert.Equal(t, 1025, cfg.SMTP.Port)
		assert.Equal(t, "none", cfg.SMTP.TLSMode)
		assert.Equal(t, "mail", cfg.DKIM.Selector)
	})

	t.Run("given missing keys, it should apply defaults", func(t *testing.T) {
		cfg, err := config.Load("../../testdata/dev.yaml")
		require.NoError(t, err)

		assert.Equal(t, 5*time.Minute, cfg.Queue.LockTTL)
		assert.True(t, cfg.Queue.AutoStart)
		assert.Equal(t, "outbound", cfg.Postmark.Stream)
		assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	})

	t.Run("given a non-existent config file, it should return an error", func(t *testing.T) {
		cfg, err := config.Load("../../testdata/nonexistent.yaml")
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})
}

func TestApplyEnv(t *testing.T) {
	cfg, err := config.Load("../../testdata/dev.yaml")
	require.NoError(t, err)

	t.Setenv("DATABASE_DSN", "postgres://override")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("SMTP_PORT", "not-a-number")
	t.Setenv("POSTMARK_SERVER_TOKEN", "server-token")

	cfg.ApplyEnv()

	assert.Equal(t, "postgres://override", cfg.Database.DSN)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 1025, cfg.SMTP.Port, "invalid numbers are ignored")
	assert.Equal(t, "server-token", cfg.Postmark.ServerToken)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg, err := config.Load("../../testdata/dev.yaml")
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "missing dsn",
			mutate: func(c *config.Config) { c.Database.DSN = "" },
			want:   "database.dsn is required",
		},
		{
			name:   "unknown transport",
			mutate: func(c *config.Config) { c.Transport.Driver = "carrier-pigeon" },
			want:   `unknown transport.driver "carrier-pigeon"`,
		},
		{
			name:   "postmark without token",
			mutate: func(c *config.Config) { c.Transport.Driver = config.TransportPostmark; c.Postmark.From = "a@example.com" },
			want:   "postmark.server_token is required",
		},
		{
			name:   "events without queue",
			mutate: func(c *config.Config) { c.Events.Enabled = true },
			want:   "events.sqs_queue_url is required",
		},
		{
			name:   "telemetry without endpoint",
			mutate: func(c *config.Config) { c.Telemetry.Enabled = true; c.Telemetry.OTLPEndpoint = "" },
			want:   "telemetry.otlp_endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
