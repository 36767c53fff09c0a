package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherType names an AEAD algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

var (
	ErrUnknownCipher = errors.New("adaptive: unknown cipher type")
	ErrKeySize       = errors.New("adaptive: invalid key size")
	ErrShortInput    = errors.New("adaptive: ciphertext too short")
	ErrOpen          = errors.New("adaptive: message authentication failed")
)

// Cipher seals and opens values with a fixed key.
type Cipher interface {
	Type() CipherType
	Encrypt(plaintext, additionalData []byte) ([]byte, error)
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)
	// Overhead is the number of bytes Encrypt adds to a plaintext.
	Overhead() int
}

// ParseType maps a configured algorithm name to a CipherType. An empty
// name selects the platform default.
func ParseType(name string) (CipherType, error) {
	switch CipherType(name) {
	case "":
		return DefaultType(), nil
	case CipherAESGCM, CipherChaCha20:
		return CipherType(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCipher, name)
}

// DefaultType returns AES-GCM where Go's crypto/aes is hardware backed and
// ChaCha20-Poly1305 elsewhere.
func DefaultType() CipherType {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return CipherAESGCM
	}
	return CipherChaCha20
}

// New creates a cipher of the platform default type.
func New(key []byte) (Cipher, error) {
	return NewWithType(key, DefaultType())
}

// NewWithType creates a cipher of the given type. AES-GCM accepts 16, 24
// or 32 byte keys; ChaCha20-Poly1305 requires 32.
func NewWithType(key []byte, typ CipherType) (Cipher, error) {
	var (
		aead cipher.AEAD
		err  error
	)
	switch typ {
	case CipherAESGCM:
		switch len(key) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("%w: %s needs 16, 24 or 32 bytes, got %d", ErrKeySize, typ, len(key))
		}
		var block cipher.Block
		if block, err = aes.NewCipher(key); err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case CipherChaCha20:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrKeySize, typ, chacha20poly1305.KeySize, len(key))
		}
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, typ)
	}
	if err != nil {
		return nil, fmt.Errorf("adaptive: init %s: %w", typ, err)
	}
	return &aeadCipher{typ: typ, aead: aead}, nil
}

type aeadCipher struct {
	typ  CipherType
	aead cipher.AEAD
}

func (c *aeadCipher) Type() CipherType { return c.typ }

func (c *aeadCipher) Overhead() int { return c.aead.NonceSize() + c.aead.Overhead() }

// Encrypt returns nonce || ciphertext || tag.
func (c *aeadCipher) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("adaptive: nonce: %w", err)
	}
	return c.aead.Seal(out, out[:ns], plaintext, additionalData), nil
}

func (c *aeadCipher) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, ErrShortInput
	}
	plain, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], additionalData)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
