package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	// SessionIDKey 由处理函数写入，供日志中间件读取。
	SessionIDKey = "session_id"
)

// RequestIDMiddleware 为每个请求分配一个请求 ID，并写回响应头。
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// GetRequestID 从上下文中取出请求 ID。
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
