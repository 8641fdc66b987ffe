package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "http://localhost:8000", cfg.BaseURL)
	assert.Equal(t, 16, cfg.DeliveryWorkers)
	assert.Equal(t, 6, cfg.DeliveryMaxAttempts)
	assert.True(t, cfg.AutoAcceptFollowers)
	assert.Equal(t, defaultRetrySchedule, cfg.DeliveryRetrySchedule)
}

func TestPath(t *testing.T) {
	cfg := &Config{BaseURL: "https://example.test/"}
	assert.Equal(t, "https://example.test/users/alice", cfg.Path("/users/alice"))
}

func TestParseRetrySchedule(t *testing.T) {
	got := parseRetrySchedule("30s,2m,10m", nil)
	require.Len(t, got, 3)
	assert.Equal(t, 30*time.Second, got[0])
	assert.Equal(t, 2*time.Minute, got[1])
	assert.Equal(t, 10*time.Minute, got[2])

	fallback := []time.Duration{time.Second}
	assert.Equal(t, fallback, parseRetrySchedule("garbage", fallback))
	assert.Equal(t, fallback, parseRetrySchedule("", fallback))
}
