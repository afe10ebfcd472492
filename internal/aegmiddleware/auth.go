package aegmiddleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"ShopAegis/internal/storeclient"
)

// ErrInvalidToken 表示 JWT 无效、过期或解析失败。
var ErrInvalidToken = errors.New("invalid or expired token")

const claimsKey = "shop.claims"

// Claims 是 Supabase 风格的 JWT 载荷：sub 为用户 id，role 为数据库角色
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator 校验 HS256 签名的访问令牌
type Authenticator struct {
	secret   []byte
	required bool
}

// NewAuthenticator 创建认证器。required 为 false 时匿名请求放行，但带了无效令牌的请求仍被拒绝。
// secret 为空时不在网关校验令牌，只原样转发给存储。
func NewAuthenticator(secret string, required bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), required: required}
}

// GenToken 签发令牌，供测试和本地开发使用
func GenToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "ShopAegis",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("签名 JWT 失败: %w", err)
	}
	return signed, nil
}

// ParseToken 解析并验证 JWT 字符串
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, jwt.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w (detail: %v)", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware 校验 Authorization 头。通过后 claims 写入 gin 上下文，
// 原始令牌写入请求 context，由传输层转发给存储。
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			if a.required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "需要认证"})
				return
			}
			c.Next()
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if len(a.secret) == 0 {
			c.Request = c.Request.WithContext(storeclient.WithAccessToken(c.Request.Context(), raw))
			c.Next()
			return
		}
		claims, err := a.ParseToken(raw)
		if err != nil {
			slog.Info("认证中间件: Token 无效", "path", c.Request.URL.Path, "ip", ClientIP(c.Request), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "令牌无效或已过期"})
			return
		}

		c.Set(claimsKey, claims)
		c.Request = c.Request.WithContext(storeclient.WithAccessToken(c.Request.Context(), raw))
		c.Next()
	}
}

// ClaimsFrom 返回已认证请求的 claims，匿名请求返回 nil
func ClaimsFrom(c *gin.Context) *Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
