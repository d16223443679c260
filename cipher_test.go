package mfakit

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestCipherRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name   string
		cipher EncryptionCipher
	}{
		{"aes-gcm", CipherAESGCM},
		{"xchacha20", CipherXChaCha20},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cs, err := newCipherService(EncryptionConfig{Key: testKeyHex, Cipher: tc.cipher})
			if err != nil {
				t.Fatalf("newCipherService failed: %v", err)
			}

			plain := []byte("credential secret material")
			ct, nonce, err := cs.Encrypt(plain)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if ct == "" || nonce == "" {
				t.Fatal("expected ciphertext and nonce")
			}
			if strings.Contains(ct, string(plain)) {
				t.Fatal("ciphertext leaks plaintext")
			}

			got, err := cs.Decrypt(ct, nonce)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Fatalf("round trip mismatch: %q", got)
			}
		})
	}
}

func TestCipherFreshNoncePerEncryption(t *testing.T) {
	cs, err := newCipherService(EncryptionConfig{Key: testKeyHex, Cipher: CipherAESGCM})
	if err != nil {
		t.Fatalf("newCipherService failed: %v", err)
	}

	plain := []byte("same plaintext")
	ct1, nonce1, err := cs.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	ct2, nonce2, err := cs.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if nonce1 == nonce2 {
		t.Fatal("expected distinct nonces")
	}
	if ct1 == ct2 {
		t.Fatal("expected distinct ciphertexts")
	}
}

func TestCipherRejectsTamperedInput(t *testing.T) {
	cs, err := newCipherService(EncryptionConfig{Key: testKeyHex, Cipher: CipherAESGCM})
	if err != nil {
		t.Fatalf("newCipherService failed: %v", err)
	}

	ct, nonce, err := cs.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Flip one character of the ciphertext.
	flipped := []byte(ct)
	if flipped[0] == 'A' {
		flipped[0] = 'B'
	} else {
		flipped[0] = 'A'
	}
	if _, err := cs.Decrypt(string(flipped), nonce); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for tampered ciphertext, got %v", err)
	}
	if _, err := cs.Decrypt(ct, "AAAA"); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for wrong nonce, got %v", err)
	}
	if _, err := cs.Decrypt("not base32!!", nonce); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for malformed encoding, got %v", err)
	}
}

func TestCipherWrongKeyFailsClosed(t *testing.T) {
	cs1, err := newCipherService(EncryptionConfig{Key: testKeyHex, Cipher: CipherAESGCM})
	if err != nil {
		t.Fatalf("newCipherService failed: %v", err)
	}
	cs2, err := newCipherService(EncryptionConfig{
		Key:    "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		Cipher: CipherAESGCM,
	})
	if err != nil {
		t.Fatalf("newCipherService failed: %v", err)
	}

	ct, nonce, err := cs1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := cs2.Decrypt(ct, nonce); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed under wrong key, got %v", err)
	}
}

func TestCipherKeyValidation(t *testing.T) {
	if cs, err := newCipherService(EncryptionConfig{}); err != nil || cs != nil {
		t.Fatalf("expected nil service for empty key, got %v err=%v", cs, err)
	}
	if _, err := newCipherService(EncryptionConfig{Key: "zzzz"}); !errors.Is(err, ErrInvalidEncryptionKey) {
		t.Fatalf("expected ErrInvalidEncryptionKey for bad hex, got %v", err)
	}
	if _, err := newCipherService(EncryptionConfig{Key: "abcd"}); !errors.Is(err, ErrInvalidEncryptionKey) {
		t.Fatalf("expected ErrInvalidEncryptionKey for short key, got %v", err)
	}

	// Nil service refuses to operate rather than silently passing data.
	var cs *cipherService
	if _, _, err := cs.Encrypt([]byte("x")); !errors.Is(err, ErrEncryptionNotConfigured) {
		t.Fatalf("expected ErrEncryptionNotConfigured, got %v", err)
	}
	if _, err := cs.Decrypt("a", "b"); !errors.Is(err, ErrEncryptionNotConfigured) {
		t.Fatalf("expected ErrEncryptionNotConfigured, got %v", err)
	}
}
