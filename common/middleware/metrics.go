package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	pkgaws "github.com/yashrajoria/storefront-core/pkg/aws"
)

// Recorder is the metrics sink; *pkgaws.MetricsClient satisfies it.
type Recorder interface {
	RecordCount(ctx context.Context, name string, dims map[string]string) error
	RecordLatency(ctx context.Context, name string, d time.Duration, dims map[string]string) error
}

// Metrics records request count, latency and errors per route. Data points are sent off the
// request path.
func Metrics(rec Recorder, service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rec == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		dims := map[string]string{
			"Service": service,
			"Method":  c.Request.Method,
			"Path":    route,
			"Status":  statusClass(status),
		}
		dur := time.Since(start)

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = rec.RecordCount(ctx, pkgaws.MetricHTTPRequests, dims)
			_ = rec.RecordLatency(ctx, pkgaws.MetricHTTPLatency, dur, dims)
			if status >= 500 {
				_ = rec.RecordCount(ctx, pkgaws.MetricHTTPErrors, dims)
			}
		}()
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
