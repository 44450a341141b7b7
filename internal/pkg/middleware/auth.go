package middleware

import (
	"net/http"
	"strings"

	"kin_marketplace/pkg/response"
	"kin_marketplace/pkg/utils"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware JWT认证中间件
// 解析成功后把 userID / appID / deviceID 写入上下文
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrMissingToken, "Authorization header is required")
			c.Abort()
			return
		}

		// 检查格式 "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Error(c, http.StatusUnauthorized, response.ErrMissingToken, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1])
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("appID", claims.AppID)
		c.Set("deviceID", claims.DeviceID)

		c.Next()
	}
}

// UserID 从上下文取当前用户 ID
func UserID(c *gin.Context) string {
	return c.GetString("userID")
}

// AppID 从上下文取当前应用 ID
func AppID(c *gin.Context) string {
	return c.GetString("appID")
}

// DeviceID 从上下文取当前设备 ID
func DeviceID(c *gin.Context) string {
	return c.GetString("deviceID")
}
