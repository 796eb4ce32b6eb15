package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// New returns a cryptographically random hex token built from n random bytes.
func New(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash returns the hex SHA-256 of tok, used wherever a secret must be keyed without
// being stored.
func Hash(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// Prefix returns at most the first n characters of tok, for log lines.
func Prefix(tok string, n int) string {
	if len(tok) <= n {
		return tok
	}
	return tok[:n] + "..."
}
