package util

import (
	"crypto/rand"
	"math/big"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomToken generates a secure random alphanumeric string of exactly n characters.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	limit := big.NewInt(int64(len(tokenAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[idx.Int64()]
	}
	return string(b), nil
}
