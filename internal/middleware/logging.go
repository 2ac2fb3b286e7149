// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"time"

	"legal-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// RequestLogger 是一个 Gin 中间件，用于记录请求日志。
// 查询内容可能包含敏感的法律文本，因此不记录请求体与响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestID", GetRequestID(c),
			"sessionID", c.GetString(SessionIDKey),
			"responseSize", c.Writer.Size(),
		)
	}
}
