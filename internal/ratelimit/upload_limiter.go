package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/usagelab/netpulse/internal/config"
)

const (
	keyUploadClient = "ingest:upload:client:%s"
	keyUploadLock   = "ingest:upload:lock"
)

// uploadLockRelease deletes the upload lock only when the caller still owns
// it, so a lock that expired and was re-acquired elsewhere is left alone.
const uploadLockRelease = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// UploadLimiter throttles CSV uploads per client and serializes the
// clear-then-insert sequence across app instances with a Redis lock. A nil
// limiter (rate limiting disabled) allows everything.
type UploadLimiter struct {
	enabled bool

	client  *redis.Client
	bucket  *TokenBucket
	release *redis.Script

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewUploadLimiter(cfg config.Config) (*UploadLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.UploadRate <= 0 || limitCfg.UploadBurst <= 0 {
		return nil, errors.New("upload rate limit must be positive")
	}
	if limitCfg.UploadLockTTLSeconds <= 0 {
		return nil, errors.New("upload lock ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &UploadLimiter{
		enabled: true,
		client:  client,
		bucket:  NewTokenBucket(client),
		release: redis.NewScript(uploadLockRelease),
		rate:    limitCfg.UploadRate,
		burst:   limitCfg.UploadBurst,
		lockTTL: time.Duration(limitCfg.UploadLockTTLSeconds) * time.Second,
	}, nil
}

func (l *UploadLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *UploadLimiter) AllowClient(ctx context.Context, clientIP string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUploadClient, strings.TrimSpace(clientIP)), l.rate, l.burst)
}

// TryLockUpload claims the cluster-wide upload lock. The returned token must
// be passed back to ReleaseUpload; the TTL bounds how long a crashed upload
// can hold the lock.
func (l *UploadLimiter) TryLockUpload(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyUploadLock, token, l.lockTTL).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *UploadLimiter) ReleaseUpload(ctx context.Context, token string) error {
	if !l.Enabled() || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{keyUploadLock}, token).Err()
}
