package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultUsageMaxLen = 10_000

// RedisUsageLog appends one entry per accepted request to a capped stream
// per tenant: apikey:usage:<tenant>.
type RedisUsageLog struct {
	rdb    *redis.Client
	maxLen int64
	now    func() time.Time
}

func NewRedisUsageLog(rdb *redis.Client, maxLen int64) *RedisUsageLog {
	if maxLen <= 0 {
		maxLen = defaultUsageMaxLen
	}
	return &RedisUsageLog{rdb: rdb, maxLen: maxLen, now: time.Now}
}

func UsageStream(tenant string) string { return "apikey:usage:" + tenant }

func (l *RedisUsageLog) Record(ctx context.Context, tenant string, keyID int64, method, path string) error {
	err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: UsageStream(tenant),
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]any{
			"key_id": keyID,
			"method": method,
			"path":   path,
			"at":     l.now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("record api key usage: %w", err)
	}
	return nil
}
