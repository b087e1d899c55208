// Package health 汇总运行时依赖的健康状态，供 /sys/health 使用。
package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/bspricer/pricing"
)

const defaultTimeout = 2 * time.Second

// Checker 健康检查函数。
type Checker func(ctx context.Context) error

// Status 汇总状态。
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Report 一次检查的结果，Checks 中 value 为空字符串表示通过。
type Report struct {
	Status Status            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type namedChecker struct {
	name  string
	check Checker
}

// Registry 按名称注册的检查集合。
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

// NewRegistry timeout 为单项检查的超时，<=0 时取 2s。
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Registry{timeout: timeout}
}

// Register 添加检查项。
func (r *Registry) Register(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: c})
}

// Check 依次执行全部检查。
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	checkers := append([]namedChecker(nil), r.checkers...)
	r.mu.RUnlock()

	rep := Report{Status: StatusUp, Checks: make(map[string]string, len(checkers))}
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := c.check(cctx)
		cancel()
		if err != nil {
			rep.Status = StatusDown
			rep.Checks[c.name] = err.Error()
			continue
		}
		rep.Checks[c.name] = ""
	}
	return rep
}

// RedisChecker Ping Redis。
func RedisChecker(client redis.UniversalClient) Checker {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		return client.Ping(ctx).Err()
	}
}

// PricingChecker 以 params() 返回的参数定价一次，价格非有限值时失败。
func PricingChecker(params func() pricing.Params) Checker {
	return func(context.Context) error {
		p := params()
		r := pricing.Price(p)
		for _, v := range []float64{r.Call, r.Put} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("non-finite price %v for %+v", v, p)
			}
		}
		return nil
	}
}
