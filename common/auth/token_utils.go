package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// RoleAdmin is the role that may see and manage every order.
const RoleAdmin = "ADMIN"

var ErrSecretNotConfigured = errors.New("JWT secret not configured")

// Identity is the caller as established by a token or upstream gateway headers.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool {
	return strings.EqualFold(i.Role, RoleAdmin)
}

func (i Identity) IsGuest() bool {
	return i.UserID == ""
}

// TokenParser validates HMAC-signed access tokens.
type TokenParser struct {
	secret []byte
}

func NewTokenParser(secret string) *TokenParser {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &TokenParser{}
	}
	return &TokenParser{secret: []byte(secret)}
}

// Parse validates tokenStr and maps its claims to an Identity. The user id is
// read from "user_id" and falls back to "sub".
func (p *TokenParser) Parse(tokenStr string) (Identity, error) {
	if p == nil || p.secret == nil {
		return Identity{}, ErrSecretNotConfigured
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return Identity{}, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("invalid token claims")
	}

	id := Identity{}
	if v, ok := claims["user_id"].(string); ok && v != "" {
		id.UserID = v
	} else if v, ok := claims["sub"].(string); ok {
		id.UserID = v
	}
	if v, ok := claims["role"].(string); ok {
		id.Role = v
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}
	return id, nil
}
