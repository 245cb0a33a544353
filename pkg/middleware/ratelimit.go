package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/feeengine/pkg/config"
	"github.com/wyfcoding/feeengine/pkg/logger"
	"github.com/wyfcoding/feeengine/pkg/ratelimit"
)

const apiPrefix = "/api/v1/"

// RateLimitMiddleware 写接口限流，按路由族与客户端 IP 分别计数；只读请求不限流，限流器故障时放行
func RateLimitMiddleware(limiter ratelimit.RateLimiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	limit := ratelimit.Limit{
		Rate:   cfg.QPS,
		Period: time.Second,
		Burst:  cfg.Burst,
	}
	return func(c *gin.Context) {
		if !cfg.Enabled || isReadOnly(c.Request.Method) {
			c.Next()
			return
		}

		family := routeFamily(c.FullPath())
		key := fmt.Sprintf("feeengine:ratelimit:%s:%s", family, c.ClientIP())
		res, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "route_family", family, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))

		if !res.Allowed {
			logger.Info(c.Request.Context(), "request throttled", "route_family", family, "client_ip", c.ClientIP())
			c.Header("Retry-After", strconv.FormatInt(int64(res.RetryAfter/time.Second)+1, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"code":        "rate_limited",
				"retry_after": res.RetryAfter.String(),
			})
			return
		}

		c.Next()
	}
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// routeFamily 取路由模板在 /api/v1 之后的第一段，如 /api/v1/invoices/:id/payments -> invoices
func routeFamily(fullPath string) string {
	if fullPath == "" {
		return "unmatched"
	}
	p := strings.TrimPrefix(fullPath, apiPrefix)
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "root"
	}
	return p
}
