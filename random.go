package auth

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

// tokenBytes is the entropy of a single-use token, 256 bits.
const tokenBytes = 32

// GenerateToken returns a hex encoded random token read from r.
func GenerateToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
