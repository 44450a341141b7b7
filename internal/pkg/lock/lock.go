package lock

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 基于 Redis 的分布式互斥锁
// SET NX PX 抢锁，Lua 比对 token 释放，保证跨进程互斥和 TTL 自动兜底释放
// 用于序列化同一 (offer, user) 的订单 read-or-create 逻辑

// ErrNotAcquired 重试耗尽仍未抢到锁
var ErrNotAcquired = errors.New("lock: could not acquire lock")

const (
	// DefaultTTL 默认锁有效期
	DefaultTTL = time.Second

	maxAttempts  = 10
	retryBackoff = 50 * time.Millisecond
)

// 只释放自己持有的锁：token 不匹配说明锁已过期被他人持有
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Locker Redis 锁工厂
type Locker struct {
	client *redis.Client
}

// NewLocker 创建锁工厂
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// WithLock 在锁的保护下执行 fn，所有退出路径（包括 panic）都会释放锁
// 抢锁失败会带抖动退避重试，重试耗尽返回 ErrNotAcquired，调用方按 502 处理
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	token := uuid.New().String()
	acquired := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			acquired = true
			break
		}

		// 抖动退避，避免多个等待者同时醒来
		backoff := retryBackoff*time.Duration(attempt+1) + time.Duration(rand.Int63n(int64(retryBackoff)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	if !acquired {
		return ErrNotAcquired
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}()

	return fn(ctx)
}
