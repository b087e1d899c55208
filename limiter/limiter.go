// Package limiter 提供限流器的通用接口与本地/Redis 两种后端实现。
package limiter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/bspricer/config"
	"golang.org/x/time/rate"
)

// Limiter 限流器通用行为。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter 按 key 维护独立令牌桶的本地限流器，适用于单实例部署。
type LocalLimiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// NewLocalLimiter r 为每秒令牌数，b 为桶容量。
func NewLocalLimiter(r rate.Limit, b int) *LocalLimiter {
	return &LocalLimiter{
		rate:    r,
		burst:   b,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow 消耗 key 对应桶中的一个令牌。
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow(), nil
}

// SetRate 热更新速率与容量，已存在的桶同步生效。
func (l *LocalLimiter) SetRate(r rate.Limit, b int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate, l.burst = r, b
	for _, bucket := range l.buckets {
		bucket.SetLimit(r)
		bucket.SetBurst(b)
	}
}

// RedisLimiter 基于 Redis ZSet 滑动窗口的分布式限流器，多实例共享限流状态。
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	seq    atomic.Uint64
}

// NewRedisLimiter limit 为窗口内允许的最大请求数。
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Allow 清理窗口外的记录、统计窗口内请求数并记录本次请求，一次 pipeline 完成。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - l.window.Nanoseconds()
	redisKey := l.prefix + key
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	card := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now), Member: member})
	pipe.Expire(ctx, redisKey, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	// card 为写入本次请求之前的窗口内请求数
	return card.Val() < int64(l.limit), nil
}

// Client 底层 Redis 客户端，用于健康检查。
func (l *RedisLimiter) Client() redis.UniversalClient {
	return l.client
}

// New 根据配置选择后端。返回的 cleanup 负责关闭 Redis 连接。
func New(cfg config.RateLimitConfig) (Limiter, func(), error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalLimiter(rate.Limit(cfg.Rate), cfg.Burst), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		window := cfg.Window
		if window <= 0 {
			window = time.Second
		}
		limit := cfg.Rate * int(window/time.Second)
		if limit < cfg.Rate {
			limit = cfg.Rate
		}
		return NewRedisLimiter(client, cfg.Redis.Prefix, limit, window), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit backend %q", cfg.Backend)
	}
}
