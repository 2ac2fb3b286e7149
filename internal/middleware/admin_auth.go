// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"legal-rag-go/pkg/log"
	"legal-rag-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware 校验 Bearer token，并要求其角色为管理员。
func AdminAuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing authorization header"})
			return
		}
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid authorization header"})
			return
		}

		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			log.Warnf("管理接口 token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid or expired token"})
			return
		}
		if claims.Role != token.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "admin role required"})
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}
