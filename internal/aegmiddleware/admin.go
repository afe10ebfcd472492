package aegmiddleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader 携带管理密钥明文
const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey 用 bcrypt 哈希校验管理密钥。hash 为空时管理接口整体关闭。
func RequireAdminKey(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "管理接口未启用"})
			return
		}
		key := c.GetHeader(AdminKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少管理密钥"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			slog.Warn("管理密钥校验失败", "ip", ClientIP(c.Request), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "管理密钥错误"})
			return
		}
		c.Next()
	}
}
