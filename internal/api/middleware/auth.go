package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/review_go_server/internal/pkg/jwt"
	"github.com/qs3c/review_go_server/internal/pkg/response"
)

const UserIDKey = "userID"

// Auth JWT 认证中间件。优先取 Authorization 头；
// SSE 这类没法带自定义头的客户端允许用 ?token= 传。
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				response.AuthError(c, "认证格式错误")
				c.Abort()
				return
			}
		} else {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}
