package snapshot

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/yndnr/metastore-go/internal/storage/wal"
)

func TestValidateConfig(t *testing.T) {
	key32 := strings.Repeat("ab", 32)
	tests := []struct {
		name    string
		cfg     EncryptionConfig
		wantErr error
	}{
		{name: "empty config is valid", cfg: EncryptionConfig{}},
		{name: "valid key", cfg: EncryptionConfig{Key: key32}},
		{name: "key too short", cfg: EncryptionConfig{Key: strings.Repeat("ab", 8)}, wantErr: ErrKeyTooShort},
		{name: "valid passphrase", cfg: EncryptionConfig{Passphrase: "mypassword123", Salt: "00112233"}},
		{name: "passphrase too weak", cfg: EncryptionConfig{Passphrase: "short", Salt: "00"}, wantErr: ErrPassphraseTooWeak},
		{name: "passphrase without salt", cfg: EncryptionConfig{Passphrase: "mypassword123"}, wantErr: ErrSaltRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateConfig(EncryptionConfig{Key: "zz"}); err == nil {
		t.Error("expected error for non-hex key")
	}
	if err := ValidateConfig(EncryptionConfig{Key: key32, Algorithm: "rot13"}); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestNewCodec_Disabled(t *testing.T) {
	codec, err := NewCodec(EncryptionConfig{}, MetastoreName)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	if codec.Encrypted() {
		t.Error("codec should not encrypt without key material")
	}
}

func TestNewCodec_PerStoreKeys(t *testing.T) {
	cfg := EncryptionConfig{Key: strings.Repeat("01", 32)}

	meta, err := NewCodec(cfg, MetastoreName)
	if err != nil {
		t.Fatalf("NewCodec(metastore) error = %v", err)
	}
	cache, err := NewCodec(cfg, CachestoreName)
	if err != nil {
		t.Fatalf("NewCodec(cachestore) error = %v", err)
	}
	if !meta.Encrypted() {
		t.Fatal("codec should encrypt")
	}

	b := wal.NewBatch()
	b.Put([]byte("k"), []byte("v"))
	data, err := meta.Encode(b)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if _, err := meta.Decode(data); err != nil {
		t.Errorf("Decode() with same store error = %v", err)
	}
	if _, err := cache.Decode(data); err == nil {
		t.Error("Decode() with other store's key should fail")
	}
}

func TestNewCipherFromConfig_Passphrase(t *testing.T) {
	cfg := EncryptionConfig{Passphrase: "correct horse battery", Salt: "0011223344556677"}

	c1, err := NewCipherFromConfig(cfg, "test")
	if err != nil {
		t.Fatalf("NewCipherFromConfig() error = %v", err)
	}
	c2, err := NewCipherFromConfig(cfg, "test")
	if err != nil {
		t.Fatalf("NewCipherFromConfig() error = %v", err)
	}

	plaintext := []byte("chunk payload")
	ciphertext, err := c1.Encrypt(plaintext, nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	got, err := c2.Decrypt(ciphertext, nil)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestDeriveKeyFromPassphrase(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1 := DeriveKeyFromPassphrase([]byte("passphrase"), salt)
	k2 := DeriveKeyFromPassphrase([]byte("passphrase"), salt)
	k3 := DeriveKeyFromPassphrase([]byte("passphrase"), []byte("fedcba9876543210"))

	if len(k1) != 32 {
		t.Fatalf("key length = %d, want 32", len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same passphrase and salt should derive the same key")
	}
	if bytes.Equal(k1, k3) {
		t.Error("different salt should derive a different key")
	}
}

func TestDeriveSubkey(t *testing.T) {
	master := bytes.Repeat([]byte{7}, 32)

	a, err := DeriveSubkey(master, "a", 32)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	b, err := DeriveSubkey(master, "b", 32)
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("different info should derive different subkeys")
	}

	if _, err := DeriveSubkey(master[:8], "a", 32); !errors.Is(err, ErrKeyTooShort) {
		t.Errorf("DeriveSubkey(short) error = %v, want ErrKeyTooShort", err)
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey(32)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != 32 {
		t.Errorf("GenerateKey() = %q, want 32 hex bytes", key)
	}

	if _, err := GenerateKey(8); !errors.Is(err, ErrKeyTooShort) {
		t.Errorf("GenerateKey(8) error = %v, want ErrKeyTooShort", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	if len(salt) != SaltLength*2 {
		t.Errorf("salt length = %d, want %d", len(salt), SaltLength*2)
	}
}

func TestZeroKey(t *testing.T) {
	key := []byte{1, 2, 3, 4}
	ZeroKey(key)
	for i, b := range key {
		if b != 0 {
			t.Errorf("key[%d] = %d, want 0", i, b)
		}
	}
}
