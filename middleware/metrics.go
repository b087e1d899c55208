package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/bspricer/metrics"
)

// MetricsOptions 指标中间件的可选参数。
type MetricsOptions struct {
	SlowThreshold time.Duration
	SkipPaths     []string
}

// HTTPMetricsMiddleware 采集 HTTP 请求量、耗时与并发数。路径使用路由模板以控制标签基数。
func HTTPMetricsMiddleware(m *metrics.Metrics, opts MetricsOptions) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, path := range opts.SkipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		if _, ok := skip[path]; ok || m == nil {
			c.Next()
			return
		}

		method := c.Request.Method
		m.HTTPInFlight.WithLabelValues(method, path).Inc()
		defer m.HTTPInFlight.WithLabelValues(method, path).Dec()

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
		if opts.SlowThreshold > 0 && elapsed > opts.SlowThreshold {
			m.HTTPSlowRequestsTotal.WithLabelValues(method, path).Inc()
		}
	}
}
