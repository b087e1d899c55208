// Package retry 指数退避重试。
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config 重试策略。MaxRetries 为首次执行之后的额外次数。
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
	MaxRetries     int
}

// DefaultConfig 100ms 起步，翻倍，上限 2s，最多重试 3 次。
func DefaultConfig() Config {
	return Config{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
		Jitter:         0.1,
		MaxRetries:     3,
	}
}

// Do 执行 fn 直到成功、次数耗尽或 ctx 取消。
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	var err error
	backoff := cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-t.C:
		}
		backoff = next(backoff, cfg)
	}
}

func next(d time.Duration, cfg Config) time.Duration {
	n := float64(d) * cfg.Multiplier
	if cfg.Jitter > 0 {
		n += (rand.Float64()*2 - 1) * cfg.Jitter * n
	}
	if cfg.MaxBackoff > 0 && time.Duration(n) > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return time.Duration(n)
}
