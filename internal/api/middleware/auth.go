package middleware

import (
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/pkg/response"
	"Murmur/internal/pkg/security"
	"Murmur/internal/service"
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 负责验证 JWT 并将用户身份信息注入 Context
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			response.Error(c, service.ErrNoToken)
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		signature, err := security.ExtractSignature(tokenString)
		if err != nil {
			response.Error(c, service.ErrInvalidToken)
			c.Abort()
			return
		}

		// 登出后的令牌命中吊销黑名单
		value, err := redis.GetValue(c.Request.Context(), consts.TokenRevokedKey+signature)
		if err != nil {
			response.Error(c, service.UnExpectedError)
			c.Abort()
			return
		}
		if value != "" {
			response.Error(c, service.ErrInvalidToken)
			c.Abort()
			return
		}

		claims, err := security.ValidateToken(tokenString)
		if err != nil {
			response.Error(c, service.ErrInvalidToken)
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("token", tokenString)

		newCtx := context.WithValue(c.Request.Context(), "user_id", claims.UserID)
		c.Request = c.Request.WithContext(newCtx)

		c.Next()
	}
}

// GetUserID 从 gin Context 取出鉴权中间件写入的用户 ID
func GetUserID(c *gin.Context) uint64 {
	return c.GetUint64("user_id")
}

// GetUsername 取出鉴权中间件写入的用户名
func GetUsername(c *gin.Context) string {
	return c.GetString("username")
}
