package mfakit

import (
	"encoding/json"
	"fmt"
	"time"
)

/*
====================================
SECRET BLOB
====================================
*/

// secretBlob is the stored form of secret material. Exactly one of the
// plaintext or ciphertext representations is populated; carrying both,
// or a ciphertext without its nonce, is corruption. All three stored
// fields are base32 so arbitrary secret bytes survive JSON transport.
type secretBlob struct {
	Plain      string `json:"plain,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Nonce      string `json:"nonce,omitempty"`

	// decoded plaintext and dirty flag live only in memory.
	value []byte
	dirty bool
}

func (b *secretBlob) validate() error {
	if b.Plain != "" && b.Ciphertext != "" {
		return ErrCorruptCredential
	}
	if b.Ciphertext != "" && b.Nonce == "" {
		return ErrCorruptCredential
	}
	if b.Ciphertext == "" && b.Nonce != "" {
		return ErrCorruptCredential
	}
	return nil
}

// open returns the plaintext, decrypting on first access. Encrypted
// blobs require a configured cipher; there is no plaintext fallback.
func (b *secretBlob) open(cs *cipherService) ([]byte, error) {
	if b.value != nil {
		return b.value, nil
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	if b.Ciphertext != "" {
		if cs == nil {
			return nil, ErrEncryptionNotConfigured
		}
		plain, err := cs.Decrypt(b.Ciphertext, b.Nonce)
		if err != nil {
			return nil, err
		}
		b.value = plain
		return plain, nil
	}
	raw, err := secretEncoding.DecodeString(b.Plain)
	if err != nil {
		return nil, fmt.Errorf("%w: plaintext secret: %v", ErrCorruptCredential, err)
	}
	b.value = raw
	return b.value, nil
}

// set replaces the plaintext and invalidates any stored ciphertext.
func (b *secretBlob) set(plain []byte) {
	b.value = plain
	b.dirty = true
	b.Plain = ""
	b.Ciphertext = ""
	b.Nonce = ""
}

// seal prepares the blob for persistence. An unmodified blob keeps its
// stored ciphertext and nonce byte for byte, so rewriting an untouched
// credential is a no-op at the storage layer.
func (b *secretBlob) seal(cs *cipherService) error {
	if !b.dirty && (b.Ciphertext != "" || b.Plain != "") {
		return nil
	}
	if cs == nil {
		b.Plain = secretEncoding.EncodeToString(b.value)
		b.Ciphertext = ""
		b.Nonce = ""
		b.dirty = false
		return nil
	}
	ct, nonce, err := cs.Encrypt(b.value)
	if err != nil {
		return err
	}
	b.Plain = ""
	b.Ciphertext = ct
	b.Nonce = nonce
	b.dirty = false
	return nil
}

/*
====================================
MODULE PAYLOADS
====================================
*/

// totpPayload is the serialized body of a TOTP credential.
type totpPayload struct {
	Secret    secretBlob `json:"secret"`
	Confirmed bool       `json:"confirmed"`
	// LastWindow is the counter index of the most recently accepted
	// window. Tokens from this window or earlier are rejected.
	LastWindow int64 `json:"last_window"`
	// ScratchHashes holds hex SHA-256 digests of unused legacy scratch
	// tokens issued at enrollment.
	ScratchHashes []string `json:"scratch_hashes,omitempty"`
}

// webauthnPayload is the serialized body of a WebAuthn credential.
type webauthnPayload struct {
	CredentialID    []byte   `json:"credential_id"`
	PublicKey       []byte   `json:"public_key"`
	AttestationType string   `json:"attestation_type,omitempty"`
	Transports      []string `json:"transports,omitempty"`
	AAGUID          []byte   `json:"aaguid,omitempty"`
	SignCount       uint32   `json:"sign_count"`
	BackupEligible  bool     `json:"backup_eligible"`
	BackupState     bool     `json:"backup_state"`
	// UserHandle is the 64-byte stable identifier presented to
	// authenticators. Every WebAuthn credential of one user carries the
	// same handle.
	UserHandle []byte `json:"user_handle"`
}

// recoveryPayload is the serialized body of a recovery-code credential.
// The unconsumed codes are sealed as one JSON array.
type recoveryPayload struct {
	Codes secretBlob `json:"codes"`
	// Generation increments each time a full replacement batch is
	// minted.
	Generation int `json:"generation"`
}

/*
====================================
DECODED CREDENTIAL
====================================
*/

// credential is the in-memory union of a stored record and its decoded
// module payload. Exactly one payload pointer is non-nil, matching the
// record's module.
type credential struct {
	rec      CredentialRecord
	module   Module
	totp     *totpPayload
	webauthn *webauthnPayload
	recovery *recoveryPayload
}

func decodeCredential(rec CredentialRecord) (*credential, error) {
	module, err := ParseModule(rec.Module)
	if err != nil {
		return nil, fmt.Errorf("%w: module %q", ErrCorruptCredential, rec.Module)
	}
	c := &credential{rec: rec, module: module}
	switch module {
	case ModuleTOTP:
		var p totpPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
		}
		if err := p.Secret.validate(); err != nil {
			return nil, err
		}
		c.totp = &p
	case ModuleWebAuthn:
		var p webauthnPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
		}
		if len(p.CredentialID) == 0 || len(p.PublicKey) == 0 {
			return nil, fmt.Errorf("%w: webauthn payload missing key material", ErrCorruptCredential)
		}
		c.webauthn = &p
	case ModuleRecoveryCode:
		var p recoveryPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
		}
		if err := p.Codes.validate(); err != nil {
			return nil, err
		}
		c.recovery = &p
	}
	return c, nil
}

// encode serializes the payload back into the record, sealing secret
// blobs first.
func (c *credential) encode(cs *cipherService) (CredentialRecord, error) {
	var (
		body any
		err  error
	)
	switch c.module {
	case ModuleTOTP:
		err = c.totp.Secret.seal(cs)
		body = c.totp
	case ModuleWebAuthn:
		body = c.webauthn
	case ModuleRecoveryCode:
		err = c.recovery.Codes.seal(cs)
		body = c.recovery
	default:
		return CredentialRecord{}, ErrUnknownModule
	}
	if err != nil {
		return CredentialRecord{}, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("encode credential: %w", err)
	}
	rec := c.rec
	rec.Module = c.module.String()
	rec.Payload = payload
	return rec, nil
}

func (c *credential) summary(cs *cipherService) CredentialSummary {
	s := CredentialSummary{
		ID:         c.rec.ID,
		Module:     c.module,
		Name:       c.rec.Name,
		CreatedAt:  c.rec.CreatedAt,
		LastUsedAt: c.rec.LastUsedAt,
	}
	switch c.module {
	case ModuleWebAuthn:
		s.SignCount = c.webauthn.SignCount
	case ModuleRecoveryCode:
		if codes, err := c.recovery.codeList(cs); err == nil {
			s.CodesRemaining = len(codes)
		}
	}
	return s
}

func (c *credential) touch(now time.Time) {
	c.rec.LastUsedAt = now
}

// codeList opens the sealed pool and returns the unconsumed codes.
func (p *recoveryPayload) codeList(cs *cipherService) ([]string, error) {
	raw, err := p.Codes.open(cs)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, fmt.Errorf("%w: recovery pool: %v", ErrCorruptCredential, err)
	}
	return codes, nil
}

func (p *recoveryPayload) setCodeList(codes []string) error {
	raw, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("encode recovery pool: %w", err)
	}
	p.Codes.set(raw)
	return nil
}
