package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/roxy/config"
)

func testCodec() *TokenCodec {
	return NewTokenCodec(config.Secrets{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     900,
		RefreshTokenTTL:    2419200,
	})
}

func TestTokenCodec_RoundTrip(t *testing.T) {
	c := testCodec()

	access, err := c.SignAccess("user-1")
	require.NoError(t, err)
	assert.Equal(t, 900, access.ExpiresIn)
	assert.True(t, strings.HasPrefix(access.Cookie, "Authentication="+access.Token+"; HttpOnly; Secure; SameSite=Strict; Path=/"))
	assert.Contains(t, access.Cookie, "Max-Age=900")

	claims, err := c.VerifyAccess(access.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	refresh, err := c.SignRefresh("user-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(refresh.Cookie, "Refresh="))
	assert.Contains(t, refresh.Cookie, "Max-Age=2419200")
	claims, err = c.VerifyRefresh(refresh.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestTokenCodec_RefreshTokensAreUnique(t *testing.T) {
	c := testCodec()
	a, err := c.SignRefresh("user-1")
	require.NoError(t, err)
	b, err := c.SignRefresh("user-1")
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
	assert.NotEqual(t, HashForLookup(a.Token), HashForLookup(b.Token))
}

func TestTokenCodec_RejectsWrongSecret(t *testing.T) {
	c := testCodec()
	refresh, err := c.SignRefresh("user-1")
	require.NoError(t, err)

	_, err = c.VerifyAccess(refresh.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenCodec_RejectsTamperedSignature(t *testing.T) {
	c := testCodec()
	access, err := c.SignAccess("user-1")
	require.NoError(t, err)

	parts := strings.Split(access.Token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[5] == 'A' {
		sig[5] = 'B'
	} else {
		sig[5] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = c.VerifyAccess(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenCodec_RejectsExpired(t *testing.T) {
	c := testCodec()
	c.now = func() time.Time { return time.Now().Add(-time.Hour) }
	access, err := c.SignAccess("user-1")
	require.NoError(t, err)

	c.now = time.Now
	_, err = c.VerifyAccess(access.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenCodec_RejectsNoneAlgorithm(t *testing.T) {
	c := testCodec()
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = c.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenCodec_RejectsGarbage(t *testing.T) {
	_, err := testCodec().VerifyAccess("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashForLookup(t *testing.T) {
	h := HashForLookup("token")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashForLookup("token"))
	assert.NotEqual(t, h, HashForLookup("token2"))
}

func TestLogoutCookies(t *testing.T) {
	cookies := LogoutCookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "Authentication=; HttpOnly; Secure; SameSite=Strict; Path=/; Max-Age=0", cookies[0])
	assert.Equal(t, "Refresh=; HttpOnly; Secure; SameSite=Strict; Path=/; Max-Age=0", cookies[1])
}
