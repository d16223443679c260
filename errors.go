package mfakit

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is called on a nil
	// or incompletely constructed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUserRequired is returned when an operation is invoked with an empty
	// user identifier.
	ErrUserRequired = errors.New("user id required")
	// ErrUnknownModule is returned when a module identifier does not name one
	// of the three credential variants.
	ErrUnknownModule = errors.New("unknown credential module")
	// ErrFactorNotEnabled is the abstain outcome: the requested module has no
	// enrolled credential for the user. It is not a verification failure, so
	// callers trying several factor types in sequence can move on.
	ErrFactorNotEnabled = errors.New("second factor not enabled for module")
	// ErrTOTPFeatureDisabled is returned when TOTP operations are invoked
	// while the TOTP module is disabled in Config.
	ErrTOTPFeatureDisabled = errors.New("totp module disabled")
	// ErrWebAuthnFeatureDisabled is returned when WebAuthn operations are
	// invoked while the WebAuthn module is disabled in Config.
	ErrWebAuthnFeatureDisabled = errors.New("webauthn module disabled")
	// ErrTOTPInvalid is returned when a TOTP enrollment confirmation code
	// does not verify against the pending secret.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrCannotRegister is returned when the external enrollment policy
	// denies credential registration for the acting user.
	ErrCannotRegister = errors.New("user may not register credentials")
	// ErrCredentialLimit is returned when registering a credential would
	// exceed Policy.MaxCredentialsPerUser.
	ErrCredentialLimit = errors.New("credential limit reached")
	// ErrCredentialNotFound is returned when a credential id does not resolve
	// to a stored credential of the expected user and module.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrChallengeNotFound is returned when no outstanding ceremony challenge
	// exists for the user, or the slot already expired. A challenge is
	// single-use; a second finish attempt always fails with this error.
	ErrChallengeNotFound = errors.New("webauthn challenge not found or expired")
	// ErrVerificationUnavailable is returned when a backend (store or Redis)
	// failure prevents an operation from completing.
	ErrVerificationUnavailable = errors.New("verification backend unavailable")
	// ErrEncryptionNotConfigured is returned when encrypted credential data
	// is encountered but no encryption key is configured. This is fatal: the
	// engine never silently degrades to plaintext.
	ErrEncryptionNotConfigured = errors.New("encryption key not configured")
	// ErrInvalidEncryptionKey is returned by Build when Encryption.Key is not
	// a 64-character hex string decoding to 32 bytes.
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")
	// ErrDecryptionFailed is returned on an authentication tag mismatch or
	// malformed ciphertext. It indicates corrupted state or a wrong key,
	// never a user error.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrCorruptCredential is returned when stored credential data violates a
	// structural invariant: malformed JSON, both or neither secret form
	// present, or more than one recovery-code credential for a user.
	ErrCorruptCredential = errors.New("corrupt credential data")
)
