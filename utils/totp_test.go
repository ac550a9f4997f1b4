package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 6238 appendix B, SHA1 rows.
func TestHotpCode_RFC6238Vectors(t *testing.T) {
	key := []byte("12345678901234567890")
	cases := []struct {
		unix int64
		want string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, hotpCode(key, tc.unix/30, 8), "t=%d", tc.unix)
	}
}

func TestVerifyTOTP(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	code, err := TOTPCode(secret, now)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.True(t, VerifyTOTP(secret, code, now))

	// one step of drift is accepted
	assert.True(t, VerifyTOTP(secret, code, now.Add(30*time.Second)))
	assert.False(t, VerifyTOTP(secret, code, now.Add(90*time.Second)))

	assert.False(t, VerifyTOTP(secret, "12345", now))
	assert.False(t, VerifyTOTP(secret, "abcdef", now))
	assert.False(t, VerifyTOTP("not base32!", code, now))
}

func TestTOTPProvisionURI(t *testing.T) {
	uri := TOTPProvisionURI("JBSWY3DPEHPK3PXP", "alice")
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/Roxy:alice?"))
	assert.Contains(t, uri, "secret=JBSWY3DPEHPK3PXP")
	assert.Contains(t, uri, "issuer=Roxy")

	qr, err := QRCodeDataURI(uri)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))
}

func TestSanitizeMfaCode(t *testing.T) {
	assert.Equal(t, "123456", SanitizeMfaCode("123 456"))
	assert.Equal(t, "abcd1234", SanitizeMfaCode("abcd-1234"))
}

func TestBackupCodes(t *testing.T) {
	codes := GenerateBackupCodes()
	require.Len(t, codes, 10)
	for _, c := range codes {
		assert.Len(t, c, 8)
	}
	joined := strings.Join(codes, ",")

	remaining, ok := ConsumeBackupCode(joined, codes[3])
	require.True(t, ok)
	left := SplitBackupCodes(remaining)
	assert.Len(t, left, 10)
	assert.NotContains(t, left, codes[3])

	// a used code cannot be replayed
	_, ok = ConsumeBackupCode(remaining, codes[3])
	assert.False(t, ok)

	unchanged, ok := ConsumeBackupCode(joined, "zzzzzzzz")
	assert.False(t, ok)
	assert.Equal(t, joined, unchanged)
}
