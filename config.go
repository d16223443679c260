package mfakit

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by mfakit APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	TOTP       TOTPConfig
	WebAuthn   WebAuthnConfig
	Recovery   RecoveryConfig
	Encryption EncryptionConfig
	Policy     PolicyConfig
	Cache      CacheConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig defines a public type used by mfakit APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Enabled bool
	Issuer  string
	// Period is the token step length in seconds.
	Period int
	// WindowRadius is the number of steps accepted on each side of the
	// current step. Radius 1 accepts three consecutive windows.
	WindowRadius            int
	EnforceReplayProtection bool
	// ScratchTokenCount is the number of legacy scratch tokens issued
	// alongside a TOTP enrollment. Zero disables scratch issuance.
	ScratchTokenCount  int
	ScratchTokenLength int
}

/*
====================================
WEBAUTHN CONFIG
====================================
*/

// WebAuthnConfig defines a public type used by mfakit APIs.
//
// WebAuthnConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type WebAuthnConfig struct {
	Enabled bool
	// RPID is the relying party identifier, normally the bare domain.
	RPID          string
	RPDisplayName string
	// RPOrigins lists the web origins allowed to complete ceremonies.
	RPOrigins    []string
	ChallengeTTL time.Duration
}

/*
====================================
RECOVERY CONFIG
====================================
*/

// RecoveryConfig defines a public type used by mfakit APIs.
//
// RecoveryConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RecoveryConfig struct {
	Enabled bool
	// CodeCount is the size of a freshly generated pool and of the
	// replacement batch minted when the pool runs out.
	CodeCount int
	// CodeLength is the number of random bytes per code before base32
	// encoding.
	CodeLength int
}

/*
====================================
ENCRYPTION CONFIG
====================================
*/

// EncryptionCipher defines a public type used by mfakit APIs.
//
// EncryptionCipher instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EncryptionCipher int

const (
	// CipherAESGCM selects AES-256-GCM, the default cipher.
	CipherAESGCM EncryptionCipher = iota
	// CipherXChaCha20 selects XChaCha20-Poly1305.
	CipherXChaCha20
)

// String returns the canonical cipher name, or "unknown" for values
// outside the defined set.
func (c EncryptionCipher) String() string {
	switch c {
	case CipherAESGCM:
		return "aes-gcm"
	case CipherXChaCha20:
		return "xchacha20"
	default:
		return "unknown"
	}
}

// EncryptionConfig defines a public type used by mfakit APIs.
//
// EncryptionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EncryptionConfig struct {
	// Key is a 64-character hex string decoding to 32 bytes. Empty means
	// credential secrets are stored in plaintext.
	Key    string
	Cipher EncryptionCipher
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig defines a public type used by mfakit APIs.
//
// PolicyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PolicyConfig struct {
	// SingleActiveFactor restricts each user to one generator credential
	// (TOTP or WebAuthn) at a time. Recovery codes are exempt.
	SingleActiveFactor    bool
	MaxCredentialsPerUser int
}

// CacheConfig defines a public type used by mfakit APIs.
//
// CacheConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CacheConfig struct {
	RedisPrefix string
}

// AuditConfig defines a public type used by mfakit APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by mfakit APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration the engine starts from:
// TOTP and recovery codes on, WebAuthn off, no encryption key.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		TOTP: TOTPConfig{
			Enabled:                 true,
			Issuer:                  "",
			Period:                  30,
			WindowRadius:            1,
			EnforceReplayProtection: true,
			ScratchTokenCount:       0,
			ScratchTokenLength:      8,
		},
		WebAuthn: WebAuthnConfig{
			Enabled:      false,
			ChallengeTTL: 60 * time.Second,
		},
		Recovery: RecoveryConfig{
			Enabled:    true,
			CodeCount:  10,
			CodeLength: 10,
		},
		Encryption: EncryptionConfig{
			Cipher: CipherAESGCM,
		},
		Policy: PolicyConfig{
			SingleActiveFactor:    true,
			MaxCredentialsPerUser: 10,
		},
		Cache: CacheConfig{
			RedisPrefix: "mk",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if len(cfg.WebAuthn.RPOrigins) > 0 {
		out.WebAuthn.RPOrigins = make([]string, len(cfg.WebAuthn.RPOrigins))
		copy(out.WebAuthn.RPOrigins, cfg.WebAuthn.RPOrigins)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	if c.TOTP.Enabled {
		if c.TOTP.Period < 15 {
			return errors.New("TOTP Period must be >= 15 seconds")
		}
		if c.TOTP.WindowRadius < 0 {
			return errors.New("TOTP WindowRadius must be >= 0")
		}
		if c.TOTP.WindowRadius > 2 {
			return errors.New("TOTP WindowRadius must be <= 2")
		}
		if c.TOTP.ScratchTokenCount < 0 {
			return errors.New("TOTP ScratchTokenCount must be >= 0")
		}
		if c.TOTP.ScratchTokenCount > 0 && c.TOTP.ScratchTokenLength < 8 {
			return errors.New("TOTP ScratchTokenLength must be >= 8")
		}
	}

	if c.WebAuthn.Enabled {
		if c.WebAuthn.RPID == "" {
			return errors.New("WebAuthn RPID is required when WebAuthn is enabled")
		}
		if c.WebAuthn.RPDisplayName == "" {
			return errors.New("WebAuthn RPDisplayName is required when WebAuthn is enabled")
		}
		if len(c.WebAuthn.RPOrigins) == 0 {
			return errors.New("WebAuthn RPOrigins must list at least one origin")
		}
		for _, origin := range c.WebAuthn.RPOrigins {
			if strings.TrimSpace(origin) == "" {
				return errors.New("WebAuthn RPOrigins must not contain empty entries")
			}
		}
		if c.WebAuthn.ChallengeTTL <= 0 {
			return errors.New("WebAuthn ChallengeTTL must be > 0")
		}
		if c.WebAuthn.ChallengeTTL > 5*time.Minute {
			return errors.New("WebAuthn ChallengeTTL must be <= 5m")
		}
	}

	if c.Recovery.Enabled {
		if c.Recovery.CodeCount <= 0 {
			return errors.New("Recovery CodeCount must be > 0")
		}
		if c.Recovery.CodeLength < 8 {
			return errors.New("Recovery CodeLength must be >= 8")
		}
	}

	if c.Encryption.Key != "" {
		raw, err := hex.DecodeString(c.Encryption.Key)
		if err != nil {
			return ErrInvalidEncryptionKey
		}
		if len(raw) != 32 {
			return ErrInvalidEncryptionKey
		}
		switch c.Encryption.Cipher {
		case CipherAESGCM, CipherXChaCha20:
			// valid
		default:
			return errors.New("Encryption Cipher is invalid")
		}
	}

	if c.Policy.MaxCredentialsPerUser <= 0 {
		return errors.New("Policy MaxCredentialsPerUser must be > 0")
	}

	if c.Cache.RedisPrefix == "" {
		return errors.New("Cache RedisPrefix must not be empty")
	}

	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	return nil
}
