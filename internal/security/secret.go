package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const opaqueSecretBytes = 64

// NewOpaqueSecret returns 64 random bytes hex encoded.
func NewOpaqueSecret() (string, error) {
	b := make([]byte, opaqueSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashOpaque is the lookup key stored in place of an opaque secret.
func HashOpaque(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func NewCSRFToken() (string, error) {
	s, err := NewOpaqueSecret()
	if err != nil {
		return "", err
	}
	return s[:32], nil
}
