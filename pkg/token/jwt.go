// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin 是允许调用管理接口的角色。
const RoleAdmin = "ADMIN"

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey []byte
	tokenDur  time.Duration
}

// CustomClaims 定义了我们想要在 JWT 中存储的自定义数据。
type CustomClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, tokenExpireHours int) *JWTManager {
	return &JWTManager{
		secretKey: []byte(secret),
		tokenDur:  time.Hour * time.Duration(tokenExpireHours),
	}
}

// GenerateToken 为 subject 签发一个带角色的 token。
func (m *JWTManager) GenerateToken(subject, role string) (string, error) {
	if len(m.secretKey) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := CustomClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串，有效时返回其 claims。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	if len(m.secretKey) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	t, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := t.Claims.(*CustomClaims); ok && t.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
