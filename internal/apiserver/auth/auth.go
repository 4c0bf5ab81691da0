// Package auth 客户端认证：JWT 令牌签发与校验、HTTP 中间件
//
// 令牌的 sub 即 client_id，作业按 client_id 归属。
// 未配置 JWT_SECRET 时关闭认证，所有请求的 client_id 为 "anonymous"。
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AnonymousClient 关闭认证时使用的 client_id
const AnonymousClient = "anonymous"

// contextKey context 键类型
type contextKey string

const ctxKeyClientID contextKey = "client_id"

// Config 认证配置
type Config struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// Enabled 是否启用认证
func (c Config) Enabled() bool {
	return c.JWTSecret != ""
}

// ============================================================================
// JWT Token
// ============================================================================

// Claims JWT 声明
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken 为客户端签发访问令牌
func GenerateToken(cfg Config, clientID string) (string, error) {
	if !cfg.Enabled() {
		return "", errors.New("auth disabled: JWT secret not configured")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// ParseToken 解析并验证 JWT
func ParseToken(cfg Config, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// ============================================================================
// Context 辅助函数
// ============================================================================

// WithClientID 将 client_id 注入 context
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ctxKeyClientID, clientID)
}

// ClientID 从 context 获取 client_id，未注入时为 anonymous
func ClientID(ctx context.Context) string {
	if id, _ := ctx.Value(ctxKeyClientID).(string); id != "" {
		return id
	}
	return AnonymousClient
}
