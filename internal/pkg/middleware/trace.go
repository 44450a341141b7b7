package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 请求追踪
// 支付服务回调和客户端请求都可能带上游的 X-Trace-ID，沿用它能把
// marketplace 和支付服务两边的日志串成同一条链路，没有就生成

const traceIDKey = "trace_id"

// TraceMiddleware 为每个请求确定追踪 ID 并写回响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(traceIDKey, traceID)
		c.Header("X-Trace-ID", traceID)

		c.Next()
	}
}

// TraceID 当前请求的追踪 ID，未经过 TraceMiddleware 时为空串
func TraceID(c *gin.Context) string {
	return c.GetString(traceIDKey)
}
