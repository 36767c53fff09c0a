// Package adaptive wraps the AEAD ciphers used to seal WAL chunks and
// snapshot material.
//
// Two algorithms are supported: AES-256-GCM, which is the default on
// platforms with hardware AES, and ChaCha20-Poly1305. Sealed output is
// the random nonce followed by the ciphertext and tag, so a value sealed
// by one process can be opened by any other holding the same key.
//
//	c, err := adaptive.NewWithType(key, adaptive.CipherAESGCM)
//	sealed, err := c.Encrypt(plain, aad)
//	plain, err = c.Decrypt(sealed, aad)
package adaptive
