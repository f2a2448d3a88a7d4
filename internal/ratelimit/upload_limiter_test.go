package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/usagelab/netpulse/internal/config"
)

func limiterConfig() config.Config {
	return config.Config{
		RateLimit: config.RateLimitConfig{
			Enabled:              true,
			RedisAddr:            "localhost:6379",
			UploadRate:           1,
			UploadBurst:          3,
			UploadLockTTLSeconds: 300,
		},
	}
}

func TestNewUploadLimiterDisabled(t *testing.T) {
	limiter, err := NewUploadLimiter(config.Config{})
	require.NoError(t, err)
	require.Nil(t, limiter)
}

func TestNewUploadLimiterValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "missing addr", mutate: func(c *config.Config) { c.RateLimit.RedisAddr = " " }},
		{name: "zero rate", mutate: func(c *config.Config) { c.RateLimit.UploadRate = 0 }},
		{name: "zero burst", mutate: func(c *config.Config) { c.RateLimit.UploadBurst = 0 }},
		{name: "zero lock ttl", mutate: func(c *config.Config) { c.RateLimit.UploadLockTTLSeconds = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := limiterConfig()
			tc.mutate(&cfg)
			_, err := NewUploadLimiter(cfg)
			require.Error(t, err)
		})
	}
}

func TestNewUploadLimiterEnabled(t *testing.T) {
	limiter, err := NewUploadLimiter(limiterConfig())
	require.NoError(t, err)
	require.True(t, limiter.Enabled())
	require.Equal(t, 5*time.Minute, limiter.lockTTL)
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	ctx := context.Background()
	var limiter *UploadLimiter

	require.False(t, limiter.Enabled())

	allowed, err := limiter.AllowClient(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, allowed)

	token, acquired, err := limiter.TryLockUpload(ctx)
	require.NoError(t, err)
	require.True(t, acquired)
	require.Empty(t, token)

	require.NoError(t, limiter.ReleaseUpload(ctx, token))
}

func TestDefaultBucketTTL(t *testing.T) {
	// Two full refill cycles: burst 3 at 1 token/s refills in 3s.
	require.Equal(t, 6*time.Second, defaultBucketTTL(1, 3))
	require.Equal(t, time.Second, defaultBucketTTL(10, 1))
	require.Equal(t, time.Second, defaultBucketTTL(0, 0))
}
