package mfakit

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/arlogic/mfakit/internal/audit"
)

// Module identifies one of the credential families managed by the engine.
//
//	Docs: docs/credentials.md
type Module uint8

const (
	// ModuleTOTP is an exported constant or variable used by the factor engine.
	ModuleTOTP Module = iota
	// ModuleWebAuthn is an exported constant or variable used by the factor engine.
	ModuleWebAuthn
	// ModuleRecoveryCode is an exported constant or variable used by the factor engine.
	ModuleRecoveryCode

	moduleCount
)

// String returns the stable wire name of the module.
func (m Module) String() string {
	switch m {
	case ModuleTOTP:
		return "totp"
	case ModuleWebAuthn:
		return "webauthn"
	case ModuleRecoveryCode:
		return "recovery_code"
	default:
		return "unknown"
	}
}

// ParseModule maps a wire name back to its [Module]. It returns
// [ErrUnknownModule] for names outside the three credential families.
func ParseModule(name string) (Module, error) {
	switch name {
	case "totp":
		return ModuleTOTP, nil
	case "webauthn":
		return ModuleWebAuthn, nil
	case "recovery_code":
		return ModuleRecoveryCode, nil
	default:
		return 0, ErrUnknownModule
	}
}

// Clock supplies the engine's notion of current time. Production engines
// use the real clock; tests substitute a fixed one.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// EnrollmentPolicy is consulted before any credential registration. A
// non-nil return denies enrollment and surfaces as [ErrCannotRegister].
type EnrollmentPolicy func(ctx context.Context, userID string) error

// CredentialStore is the primary interface that callers must implement to
// integrate mfakit with their credential database. It covers credential
// lookup, creation, mutation, removal, and the per-user active-module
// marker.
//
//	Docs: docs/engine.md, docs/usage.md
type CredentialStore interface {
	// FindCredentials returns every stored credential for the user, in
	// any order. An unknown user yields an empty slice, not an error.
	FindCredentials(ctx context.Context, userID string) ([]CredentialRecord, error)
	CreateCredential(ctx context.Context, rec CredentialRecord) error
	UpdateCredential(ctx context.Context, rec CredentialRecord) error
	RemoveCredential(ctx context.Context, userID, credentialID string) error
	// ActiveModule returns the user's currently active generator module
	// name, or "" when none is set.
	ActiveModule(ctx context.Context, userID string) (string, error)
	SetActiveModule(ctx context.Context, userID, module string) error
}

// CredentialRecord is the persisted form of a credential: identity
// columns plus the serialized module payload produced by the engine.
// Stores treat Payload as opaque bytes.
type CredentialRecord struct {
	ID         string
	UserID     string
	Module     string
	Name       string
	CreatedAt  time.Time
	LastUsedAt time.Time
	Payload    []byte
}

// CredentialSummary is the redacted, caller-facing view of a credential.
// It never carries secret material.
type CredentialSummary struct {
	ID         string
	Module     Module
	Name       string
	CreatedAt  time.Time
	LastUsedAt time.Time
	// SignCount is the authenticator signature counter. Only meaningful
	// for WebAuthn credentials.
	SignCount uint32
	// CodesRemaining is the unconsumed pool size. Only meaningful for
	// recovery-code credentials.
	CodesRemaining int
}

// UserFactorState is the aggregate second-factor posture of one user,
// returned by [Engine.FactorState].
type UserFactorState struct {
	UserID                 string
	Enabled                bool
	ActiveModule           string
	TOTPEnabled            bool
	WebAuthnEnabled        bool
	RecoveryCodesRemaining int
	Credentials            []CredentialSummary
}

// TOTPEnrollment holds the material returned by
// [Engine.BeginTOTPEnrollment]: the base32 secret, the otpauth:// URI,
// a PNG render of that URI, and any issued scratch tokens. The secret
// is shown to the user exactly once.
type TOTPEnrollment struct {
	CredentialID  string
	Secret        string
	URI           string
	QRCodePNG     []byte
	ScratchTokens []string
}

// VerifyResult is returned by the verification entry points. OK reports
// whether the presented token was accepted; a rejected token is not an
// error. ReplacementCodes is populated only when consuming the last
// recovery code triggered regeneration, and must be shown to the user.
type VerifyResult struct {
	OK               bool
	Module           Module
	CredentialID     string
	ReplacementCodes []string
}

// WebAuthnRegistrationStart is returned by
// [Engine.BeginWebAuthnRegistration]. OptionsJSON is the serialized
// credential-creation options to hand to the browser.
type WebAuthnRegistrationStart struct {
	OptionsJSON []byte
}

// WebAuthnAuthenticationStart is returned by
// [Engine.BeginWebAuthnAuthentication]. OptionsJSON is the serialized
// credential-request options to hand to the browser.
type WebAuthnAuthenticationStart struct {
	OptionsJSON []byte
}

// AuditEvent is a structured audit record emitted by the engine.
//
//	Docs: docs/audit.md
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine’s audit dispatcher.
//
//	Docs: docs/audit.md
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
//
//	Docs: docs/audit.md
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
//
//	Docs: docs/audit.md
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
//
//	Docs: docs/audit.md
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
//
//	Docs: docs/audit.md
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
