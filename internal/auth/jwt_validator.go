package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
)

// NewValidator builds the validator selected by kind: "jwk" verifies against a
// JWKS endpoint, "secret" verifies HS256 tokens with a shared secret, and "dev"
// trusts the claims without checking the signature.
func NewValidator(kind, jwksURL, secret string) (TokenValidator, error) {
	switch kind {
	case "jwk":
		return NewJWKSValidator(jwksURL)
	case "secret":
		return NewSecretValidator(secret)
	case "dev", "":
		return DevValidator{}, nil
	default:
		return nil, fmt.Errorf("unknown validator type %q", kind)
	}
}

// JWKSValidator verifies asymmetric tokens against keys published at a JWKS URL.
type JWKSValidator struct {
	mu      sync.RWMutex
	keySet  jwk.Set
	jwksURL string
}

func NewJWKSValidator(jwksURL string) (*JWKSValidator, error) {
	if jwksURL == "" {
		return nil, ErrNoJWKS
	}

	keySet, err := jwk.Fetch(context.Background(), jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSValidator{keySet: keySet, jwksURL: jwksURL}, nil
}

// RefreshKeys refreshes the JWKS from the URL.
func (v *JWKSValidator) RefreshKeys() error {
	keySet, err := jwk.Fetch(context.Background(), v.jwksURL)
	if err != nil {
		return fmt.Errorf("failed to refresh JWKS from %s: %w", v.jwksURL, err)
	}

	v.mu.Lock()
	v.keySet = keySet
	v.mu.Unlock()
	return nil
}

func (v *JWKSValidator) lookup(kid string) (jwk.Key, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keySet.LookupKeyID(kid)
}

func (v *JWKSValidator) ExtractUserInfo(tokenString string) (UserInfo, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: failed to parse token header: %v", ErrInvalidToken, err)
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return UserInfo{}, fmt.Errorf("%w: token header missing kid", ErrInvalidToken)
	}

	key, found := v.lookup(kid)
	if !found {
		// Keys may have rotated.
		if err := v.RefreshKeys(); err != nil {
			return UserInfo{}, fmt.Errorf("%w: key with ID %s not found and failed to refresh keys: %v", ErrInvalidToken, kid, err)
		}
		key, found = v.lookup(kid)
		if !found {
			return UserInfo{}, fmt.Errorf("%w: key with ID %s not found", ErrInvalidToken, kid)
		}
	}

	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return UserInfo{}, fmt.Errorf("%w: failed to get raw key: %v", ErrInvalidToken, err)
	}

	return verify(tokenString, func(*jwt.Token) (interface{}, error) { return rawKey, nil })
}

// SecretValidator verifies HS256 tokens signed with the project JWT secret.
type SecretValidator struct {
	secret []byte
}

func NewSecretValidator(secret string) (*SecretValidator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &SecretValidator{secret: []byte(secret)}, nil
}

func (v *SecretValidator) ExtractUserInfo(tokenString string) (UserInfo, error) {
	return verify(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
}

// DevValidator reads claims without verifying the signature. Local development only.
type DevValidator struct{}

func (DevValidator) ExtractUserInfo(tokenString string) (UserInfo, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return UserInfo{}, ErrInvalidToken
	}
	return userInfoFromClaims(claims)
}

func verify(tokenString string, keyFunc jwt.Keyfunc) (UserInfo, error) {
	validated, err := jwt.ParseWithClaims(tokenString, &Claims{}, keyFunc)
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return UserInfo{}, ErrExpiredToken
		}
		return UserInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := validated.Claims.(*Claims)
	if !ok || !validated.Valid {
		return UserInfo{}, ErrInvalidToken
	}

	if !claims.VerifyExpiresAt(time.Now(), false) {
		return UserInfo{}, ErrExpiredToken
	}

	return userInfoFromClaims(claims)
}
