package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"kin_marketplace/pkg/response"

	"github.com/redis/go-redis/v9"
)

// 滑动窗口计数限流器
// 时间按 max(window/60, 1) 秒粒度分桶，每次检查先把本桶加上请求量，
// 再把窗口内所有桶求和得到滚动总量，超限则返回带业务码的错误。
//
// 注意：先加再查不在一个事务里，两个并发请求可能都通过边界检查。
// 这是有意的设计（咨询性门槛，最终一致），不是需要修复的竞态。

// Checker 限流检查入口，*Limiter 满足该接口；服务层依赖接口便于测试替换
type Checker interface {
	CheckRate(ctx context.Context, prefix string, window time.Duration, limit int64) error
	CheckAmount(ctx context.Context, prefix string, window time.Duration, limit, amount int64) error
}

// Limiter Redis 滑动窗口限流器
type Limiter struct {
	client *redis.Client
}

// NewLimiter 创建限流器
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// bucketDuration 桶粒度
func bucketDuration(window time.Duration) time.Duration {
	d := window / 60
	if d < time.Second {
		d = time.Second
	}
	return d
}

// bucketKey 某个桶边界对应的键
func bucketKey(prefix string, bucketStart int64) string {
	return fmt.Sprintf("rate_limit:%s:%d", prefix, bucketStart)
}

// Add 把 amount 计入当前桶并返回窗口内滚动总量
// 缺失的历史桶按 0 处理
func (l *Limiter) Add(ctx context.Context, prefix string, window time.Duration, amount int64) (int64, error) {
	step := bucketDuration(window)
	now := time.Now()
	currentBucket := now.Truncate(step).Unix()

	// 当前桶累加，过期时间取两个窗口长度，窗口滑出后自动清理
	pipe := l.client.TxPipeline()
	incr := pipe.IncrBy(ctx, bucketKey(prefix, currentBucket), amount)
	pipe.Expire(ctx, bucketKey(prefix, currentBucket), window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	_ = incr

	// 收集窗口内所有桶边界
	keys := make([]string, 0, 61)
	for t := now.Add(-window).Truncate(step); !t.After(now); t = t.Add(step) {
		keys = append(keys, bucketKey(prefix, t.Unix()))
	}

	vals, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, v := range vals {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				total += n
			}
		}
	}

	return total, nil
}

// CheckRate 计一次事件并校验窗口总次数
// 用于注册等按次数限流的场景
func (l *Limiter) CheckRate(ctx context.Context, prefix string, window time.Duration, limit int64) error {
	total, err := l.Add(ctx, prefix, window, 1)
	if err != nil {
		return err
	}
	if total > limit {
		return response.TooManyRequests(
			fmt.Sprintf("rate limit exceeded for %s: limit %d, actual %d in %s", prefix, limit, total, window))
	}
	return nil
}

// CheckAmount 计入 amount 并校验窗口总额
// 用于 earn 金额限流（按应用/用户/钱包）
func (l *Limiter) CheckAmount(ctx context.Context, prefix string, window time.Duration, limit, amount int64) error {
	total, err := l.Add(ctx, prefix, window, amount)
	if err != nil {
		return err
	}
	if total > limit {
		return response.TooMuchEarnOrdered(
			fmt.Sprintf("too much earn ordered for %s: limit %d, actual %d in %s", prefix, limit, total, window))
	}
	return nil
}
