package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.APIAddr)
	assert.Equal(t, 5, c.Queue.Concurrency)
	assert.Equal(t, 10000, c.Queue.MaxSize)
	assert.Equal(t, 2, c.Queue.Retries)
	assert.Equal(t, time.Second, c.Queue.RetryDelay)
	assert.Equal(t, 100.0, c.Session.DefaultRadius)
	assert.True(t, c.IsDev())
	assert.False(t, c.TrustProxyHeaders)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SHEETS_QUEUE_CONCURRENCY", "9")
	t.Setenv("SHEETS_QUEUE_RETRY_DELAY", "250ms")
	t.Setenv("SESSION_DEFAULT_RADIUS_M", "42.5")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	c, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 9, c.Queue.Concurrency)
	assert.Equal(t, 250*time.Millisecond, c.Queue.RetryDelay)
	assert.Equal(t, 42.5, c.Session.DefaultRadius)
	assert.Equal(t, "memory", c.StoreBackend)
	assert.False(t, c.IsDev())
	assert.True(t, c.TrustProxyHeaders)
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Setenv("JANITOR_INTERVAL", "soon")
	_, err := Parse()
	assert.Error(t, err)
}
