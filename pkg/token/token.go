// Package token generates and verifies bearer tokens. Only the SHA-256
// hash of a token needs to be stored.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// DefaultLength is the token length in random bytes.
const DefaultLength = 32

// HashLength is the length of a hex encoded hash.
const HashLength = sha256.Size * 2

// ErrInvalidHash is returned by ValidateHash.
var ErrInvalidHash = errors.New("token: hash must be 64 hex characters")

// Generate returns a random base64url token of DefaultLength bytes.
func Generate() (string, error) {
	b := make([]byte, DefaultLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash returns the hex SHA-256 of token.
func Hash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Verify reports whether token hashes to expectedHash in constant time.
func Verify(token, expectedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(token)), []byte(expectedHash)) == 1
}

// ValidateHash checks that h looks like a value returned by Hash.
func ValidateHash(h string) error {
	if len(h) != HashLength {
		return ErrInvalidHash
	}
	if _, err := hex.DecodeString(h); err != nil {
		return ErrInvalidHash
	}
	return nil
}
