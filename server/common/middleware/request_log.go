package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	commonlog "review_server/server/common/log"
)

func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		switch {
		case status >= 500:
			commonlog.Errorf("event=http_request method=%s route=%s status_code=%d latency_ms=%d", c.Request.Method, route, status, time.Since(startedAt).Milliseconds())
		case status >= 400:
			commonlog.Warnf("event=http_request method=%s route=%s status_code=%d latency_ms=%d", c.Request.Method, route, status, time.Since(startedAt).Milliseconds())
		default:
			commonlog.Debugf("event=http_request method=%s route=%s status_code=%d latency_ms=%d", c.Request.Method, route, status, time.Since(startedAt).Milliseconds())
		}
	}
}
