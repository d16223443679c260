package mfakit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// cipherService seals and opens credential secret material. A nil
// service means plaintext storage was configured.
type cipherService struct {
	aead cipher.AEAD
}

func newCipherService(cfg EncryptionConfig) (*cipherService, error) {
	if cfg.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(cfg.Key)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidEncryptionKey
	}

	var aead cipher.AEAD
	switch cfg.Cipher {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, ErrInvalidEncryptionKey
		}
		aead, err = cipher.NewGCM(block)
		if err != nil {
			return nil, ErrInvalidEncryptionKey
		}
	case CipherXChaCha20:
		aead, err = chacha20poly1305.NewX(key)
		if err != nil {
			return nil, ErrInvalidEncryptionKey
		}
	default:
		return nil, ErrInvalidEncryptionKey
	}

	return &cipherService{aead: aead}, nil
}

// Encrypt seals plain under a fresh random nonce and returns the
// base32-encoded ciphertext and nonce.
func (c *cipherService) Encrypt(plain []byte) (ciphertext, nonce string, err error) {
	if c == nil {
		return "", "", ErrEncryptionNotConfigured
	}
	raw := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("nonce generation: %w", err)
	}
	sealed := c.aead.Seal(nil, raw, plain, nil)
	return secretEncoding.EncodeToString(sealed), secretEncoding.EncodeToString(raw), nil
}

// Decrypt opens a base32-encoded ciphertext/nonce pair. Any malformed
// encoding or authentication tag mismatch yields [ErrDecryptionFailed].
func (c *cipherService) Decrypt(ciphertext, nonce string) ([]byte, error) {
	if c == nil {
		return nil, ErrEncryptionNotConfigured
	}
	sealed, err := secretEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	raw, err := secretEncoding.DecodeString(nonce)
	if err != nil || len(raw) != c.aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plain, err := c.aead.Open(nil, raw, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
