package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpSecretBytes = 20
	totpDigits      = 6
	totpPeriod      = 30
	totpSkew        = 1

	backupCodeCount  = 10
	backupCodeLength = 8

	TOTPIssuer = "Roxy"
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret returns a random base32 secret.
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return totpEncoding.EncodeToString(raw), nil
}

// TOTPProvisionURI builds the otpauth:// URI scanned by authenticator apps.
func TOTPProvisionURI(secret, account string) string {
	label := url.PathEscape(TOTPIssuer + ":" + account)
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", TOTPIssuer)
	v.Set("period", strconv.Itoa(totpPeriod))
	v.Set("digits", strconv.Itoa(totpDigits))
	v.Set("algorithm", "SHA1")
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// QRCodeDataURI renders content as a PNG data URI.
func QRCodeDataURI(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// TOTPCode returns the code for secret at t.
func TOTPCode(secret string, t time.Time) (string, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(key, t.Unix()/totpPeriod, totpDigits), nil
}

// VerifyTOTP accepts codes from the current step and one step either side.
func VerifyTOTP(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits || !isNumeric(code) {
		return false
	}
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return false
	}
	base := now.Unix() / totpPeriod
	for step := int64(-totpSkew); step <= totpSkew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotpCode(key, counter, totpDigits)), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	key, err := totpEncoding.DecodeString(s)
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("invalid totp secret")
	}
	return key, nil
}

// hotpCode implements RFC 4226 with HMAC-SHA1.
func hotpCode(key []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// SanitizeMfaCode strips the spaces and dashes users paste along with codes.
func SanitizeMfaCode(code string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(code)
}

// GenerateBackupCodes returns fresh single-use recovery codes.
func GenerateBackupCodes() []string {
	codes := make([]string, backupCodeCount)
	for i := range codes {
		codes[i] = NewBackupCode()
	}
	return codes
}

// NewBackupCode returns a single recovery code.
func NewBackupCode() string {
	return RandomString(backupCodeLength)
}

// SplitBackupCodes parses the comma-joined column value.
func SplitBackupCodes(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

// ConsumeBackupCode reports whether code is one of the stored codes and, if so,
// returns the list with that code replaced by a fresh one.
func ConsumeBackupCode(joined, code string) (string, bool) {
	codes := SplitBackupCodes(joined)
	for i, c := range codes {
		if subtle.ConstantTimeCompare([]byte(c), []byte(code)) == 1 {
			codes[i] = NewBackupCode()
			return strings.Join(codes, ","), true
		}
	}
	return joined, false
}
