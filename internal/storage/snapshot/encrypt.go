package snapshot

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/metastore-go/internal/storage/wal"
	"github.com/yndnr/metastore-go/pkg/crypto/adaptive"
)

// Encryption errors.
var (
	ErrKeyTooShort       = errors.New("snapshot: encryption key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("snapshot: passphrase too weak (minimum 8 characters)")
	ErrSaltRequired      = errors.New("snapshot: passphrase encryption requires a salt")
)

const (
	// MinKeyLength is the minimum key length for encryption.
	MinKeyLength = 16

	// MinPassphraseLength is the minimum passphrase length.
	MinPassphraseLength = 8

	// SaltLength is the salt length produced by GenerateSalt.
	SaltLength = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// EncryptionConfig configures WAL chunk encryption. Leaving both Key and
// Passphrase empty disables encryption.
type EncryptionConfig struct {
	// Key is a hex encoded master key (16, 24 or 32 bytes).
	Key string `koanf:"key"`

	// Passphrase derives the master key with Argon2id. Salt must be set
	// and must stay the same for the lifetime of the data.
	Passphrase string `koanf:"passphrase"`

	// Salt is hex encoded.
	Salt string `koanf:"salt"`

	// Algorithm is "aes-gcm" (default) or "chacha20-poly1305".
	Algorithm string `koanf:"algorithm"`
}

// Enabled reports whether any key material is configured.
func (c EncryptionConfig) Enabled() bool {
	return c.Key != "" || c.Passphrase != ""
}

// ValidateConfig validates the encryption configuration.
func ValidateConfig(cfg EncryptionConfig) error {
	if cfg.Passphrase != "" {
		if len(cfg.Passphrase) < MinPassphraseLength {
			return ErrPassphraseTooWeak
		}
		if cfg.Salt == "" {
			return ErrSaltRequired
		}
		if _, err := hex.DecodeString(cfg.Salt); err != nil {
			return fmt.Errorf("snapshot: decode salt: %w", err)
		}
		return nil
	}
	if cfg.Key != "" {
		key, err := hex.DecodeString(cfg.Key)
		if err != nil {
			return fmt.Errorf("snapshot: decode key: %w", err)
		}
		if len(key) < MinKeyLength {
			return ErrKeyTooShort
		}
	}
	if _, err := adaptive.ParseType(cfg.Algorithm); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// NewCodec builds the WAL codec for storeName. Each store gets its own
// subkey so chunks cannot be replayed into the other store.
func NewCodec(cfg EncryptionConfig, storeName string) (*wal.Codec, error) {
	if !cfg.Enabled() {
		return wal.NewCodec(nil), nil
	}
	cipher, err := NewCipherFromConfig(cfg, storeName+"-wal")
	if err != nil {
		return nil, err
	}
	return wal.NewCodec(cipher), nil
}

// NewCipherFromConfig derives a purpose-bound cipher from cfg.
func NewCipherFromConfig(cfg EncryptionConfig, purpose string) (adaptive.Cipher, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	var master []byte
	if cfg.Passphrase != "" {
		salt, _ := hex.DecodeString(cfg.Salt)
		master = DeriveKeyFromPassphrase([]byte(cfg.Passphrase), salt)
	} else {
		master, _ = hex.DecodeString(cfg.Key)
	}
	defer ZeroKey(master)

	key, err := DeriveSubkey(master, purpose, 32)
	if err != nil {
		return nil, err
	}

	algo, _ := adaptive.ParseType(cfg.Algorithm)
	c, err := adaptive.NewWithType(key, algo)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create cipher: %w", err)
	}
	return c, nil
}

// DeriveKeyFromPassphrase derives a 32-byte key with Argon2id.
func DeriveKeyFromPassphrase(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// DeriveSubkey derives a subkey from a master key using HKDF.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("snapshot: derive subkey: %w", err)
	}
	return key, nil
}

// GenerateKey returns a random hex encoded key of length bytes.
func GenerateKey(length int) (string, error) {
	if length < MinKeyLength {
		return "", ErrKeyTooShort
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("snapshot: generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// GenerateSalt returns a random hex encoded salt.
func GenerateSalt() (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("snapshot: generate salt: %w", err)
	}
	return hex.EncodeToString(salt), nil
}

// ZeroKey zeros a key in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
