package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomString draws n characters from [a-z0-9] using crypto/rand.
func RandomString(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = keyAlphabet[idx.Int64()]
	}
	return string(b)
}

// NewApiKey returns 32 random bytes as hex.
func NewApiKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
