package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"errors"
)

const UserHandleSize = 64

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewUserHandle generates the stable authenticator-facing identifier
// assigned to a user when their first WebAuthn credential is created.
func NewUserHandle() ([]byte, error) {
	handle := make([]byte, UserHandleSize)
	if _, err := rand.Read(handle); err != nil {
		return nil, err
	}
	return handle, nil
}

// NewCode generates a base32-encoded code from nBytes random bytes.
// Used for recovery codes and scratch tokens.
func NewCode(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", errors.New("invalid code size")
	}
	raw := make([]byte, nBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return codeEncoding.EncodeToString(raw), nil
}

// NewCodeBatch generates count codes of nBytes random bytes each.
func NewCodeBatch(count, nBytes int) ([]string, error) {
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := NewCode(nBytes)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// HashCode returns the SHA-256 digest of a code.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}
