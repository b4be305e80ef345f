package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultSyncLockKey 邮件同步互斥锁的键名
const DefaultSyncLockKey = "ticketmail:sync:lock"

// 只有持有者（token 一致）才能删除锁
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock 基于 SET NX PX 的跨进程互斥锁。
//
// 锁带过期时间，持有进程崩溃后会自动释放；ttl 需要大于一次同步的最长耗时。
type RunLock struct {
	rdb goredis.UniversalClient
	key string
	ttl time.Duration
	log *zap.Logger
}

// NewRunLock 创建运行锁
func NewRunLock(rdb goredis.UniversalClient, key string, ttl time.Duration, log *zap.Logger) *RunLock {
	if key == "" {
		key = DefaultSyncLockKey
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RunLock{rdb: rdb, key: key, ttl: ttl, log: log}
}

// TryLock 尝试获取锁，不阻塞
func (l *RunLock) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// 调用方的 ctx 可能已取消，释放锁使用独立的超时
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.rdb, []string{l.key}, token).Err(); err != nil {
			l.log.Warn("failed to release sync lock",
				zap.String("key", l.key),
				zap.Error(err),
			)
		}
	}
	return release, true, nil
}
