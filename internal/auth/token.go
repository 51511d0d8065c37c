package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoJWKS       = errors.New("no JWKS URL provided")
	ErrNoSecret     = errors.New("no JWT secret provided")
)

// Claims are the Supabase access token claims the service reads.
type Claims struct {
	Sub    string `json:"sub"`
	UserId string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// UserInfo contains extracted user information from a token.
type UserInfo struct {
	UserID string
	Email  string
	Role   string
}

// IsAnonymous returns true for Supabase anonymous sign-ins.
func (u UserInfo) IsAnonymous() bool {
	return u.Role == "anon"
}

// TokenValidator checks a bearer token and returns who it belongs to.
type TokenValidator interface {
	ExtractUserInfo(tokenString string) (UserInfo, error)
}

func userInfoFromClaims(claims *Claims) (UserInfo, error) {
	id := claims.Sub
	if id == "" {
		id = claims.UserId
	}
	if id == "" {
		id = claims.Email
	}
	if id == "" {
		return UserInfo{}, fmt.Errorf("%w: no sub, user_id, or email found in token claims", ErrInvalidToken)
	}
	return UserInfo{UserID: id, Email: claims.Email, Role: claims.Role}, nil
}
