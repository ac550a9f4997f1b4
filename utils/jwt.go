package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cppla/roxy/config"
)

const (
	AccessCookieName  = "Authentication"
	RefreshCookieName = "Refresh"

	cookieAttributes = "HttpOnly; Secure; SameSite=Strict; Path=/"
)

// ErrInvalidToken covers bad signatures, malformed input and expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims defines JWT claims used in the application.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// SignedToken is a freshly issued JWT along with its Set-Cookie value.
type SignedToken struct {
	Token string `json:"token"`
	// Expires is the expiry as epoch seconds.
	Expires   int64  `json:"expires"`
	ExpiresIn int    `json:"-"`
	Cookie    string `json:"-"`
}

// TokenCodec signs and verifies access and refresh tokens.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenCodec builds a codec from the persisted secrets.
func NewTokenCodec(s config.Secrets) *TokenCodec {
	return &TokenCodec{
		accessSecret:  []byte(s.AccessTokenSecret),
		refreshSecret: []byte(s.RefreshTokenSecret),
		accessTTL:     time.Duration(s.AccessTokenTTL) * time.Second,
		refreshTTL:    time.Duration(s.RefreshTokenTTL) * time.Second,
		now:           time.Now,
	}
}

// SignAccess issues a short-lived access token.
func (c *TokenCodec) SignAccess(userID string) (SignedToken, error) {
	return c.sign(userID, c.accessSecret, c.accessTTL, AccessCookieName)
}

// SignRefresh issues a long-lived refresh token.
func (c *TokenCodec) SignRefresh(userID string) (SignedToken, error) {
	return c.sign(userID, c.refreshSecret, c.refreshTTL, RefreshCookieName)
}

// VerifyAccess verifies a token signed by SignAccess.
func (c *TokenCodec) VerifyAccess(token string) (*Claims, error) {
	return c.Verify(token, c.accessSecret)
}

// VerifyRefresh verifies a token signed by SignRefresh.
func (c *TokenCodec) VerifyRefresh(token string) (*Claims, error) {
	return c.Verify(token, c.refreshSecret)
}

func (c *TokenCodec) sign(userID string, secret []byte, ttl time.Duration, cookieName string) (SignedToken, error) {
	now := c.now()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sign %s token: %w", cookieName, err)
	}
	seconds := int(ttl / time.Second)
	return SignedToken{
		Token:     token,
		Expires:   exp.Unix(),
		ExpiresIn: seconds,
		Cookie:    Cookie(cookieName, token, seconds),
	}, nil
}

// Verify validates a JWT against secret and returns its claims.
func (c *TokenCodec) Verify(tokenStr string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashForLookup returns the sha256 hex digest of a refresh token. Sessions
// store this digest, never the token itself.
func HashForLookup(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Cookie renders a Set-Cookie value with the attributes shared by both auth cookies.
func Cookie(name, value string, maxAge int) string {
	return fmt.Sprintf("%s=%s; %s; Max-Age=%d", name, value, cookieAttributes, maxAge)
}

// LogoutCookies clears both auth cookies.
func LogoutCookies() []string {
	return []string{
		Cookie(AccessCookieName, "", 0),
		Cookie(RefreshCookieName, "", 0),
	}
}
