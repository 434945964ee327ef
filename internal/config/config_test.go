package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_BUCKET_WIDTH_MINUTES", "")
	t.Setenv("APP_STORE_TIMEOUT", "")
	t.Setenv("APP_COUNTER_BACKEND", "")
	t.Setenv("APP_NOTIFIER", "")

	cfg := Load()
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 5, cfg.BucketWidthMinutes)
	require.Equal(t, 5*time.Second, cfg.StoreTimeout)
	require.Equal(t, "db", cfg.CounterBackend)
	require.Equal(t, "webhook", cfg.Notifier)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_BUCKET_WIDTH_MINUTES", "15")
	t.Setenv("APP_STORE_TIMEOUT", "250ms")
	t.Setenv("APP_MAX_PAGE_SIZE", "not-a-number")

	cfg := Load()
	require.Equal(t, 15, cfg.BucketWidthMinutes)
	require.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
	require.Equal(t, 500, cfg.MaxPageSize)
}

func TestValidateRejectsBadWidth(t *testing.T) {
	cfg := &Config{BucketWidthMinutes: 7, CounterBackend: "db", Notifier: "webhook", StoreTimeout: time.Second}
	require.Error(t, cfg.Validate())

	cfg.BucketWidthMinutes = 10
	require.NoError(t, cfg.Validate())

	cfg.CounterBackend = "memcached"
	require.Error(t, cfg.Validate())

	cfg.CounterBackend = "redis"
	cfg.Notifier = "email"
	require.Error(t, cfg.Validate())
}
