package mfakit

import (
	"context"
	"errors"
)

const (
	auditEventTOTPEnrollStarted       = "totp_enroll_started"
	auditEventTOTPEnrollConfirmed     = "totp_enroll_confirmed"
	auditEventTOTPSuccess             = "totp_success"
	auditEventTOTPFailure             = "totp_failure"
	auditEventTOTPReplayBlocked       = "totp_replay_blocked"
	auditEventWebAuthnRegisterStarted = "webauthn_register_started"
	auditEventWebAuthnRegistered      = "webauthn_registered"
	auditEventWebAuthnAuthStarted     = "webauthn_auth_started"
	auditEventWebAuthnSuccess         = "webauthn_success"
	auditEventWebAuthnFailure         = "webauthn_failure"
	auditEventWebAuthnCloneSuspected  = "webauthn_clone_suspected"
	auditEventRecoveryCodeUsed        = "recovery_code_used"
	auditEventRecoveryCodeFailed      = "recovery_code_failed"
	auditEventRecoveryCodesGenerated  = "recovery_codes_generated"
	auditEventScratchTokenUsed        = "scratch_token_used"
	auditEventCredentialRemoved       = "credential_removed"
	auditEventCredentialRenamed       = "credential_renamed"
	auditEventActiveModuleChanged     = "active_module_changed"
)

// AuditErrorCode defines a public type used by mfakit APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrNotEnabled        AuditErrorCode = "factor_not_enabled"
	auditErrUnknownModule     AuditErrorCode = "unknown_module"
	auditErrTOTPInvalid       AuditErrorCode = "totp_invalid"
	auditErrCannotRegister    AuditErrorCode = "cannot_register"
	auditErrCredentialLimit   AuditErrorCode = "credential_limit"
	auditErrCredentialMissing AuditErrorCode = "credential_not_found"
	auditErrChallengeMissing  AuditErrorCode = "challenge_not_found"
	auditErrCorrupt           AuditErrorCode = "corrupt_credential"
	auditErrDecryption        AuditErrorCode = "decryption_failed"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	module Module,
	credentialID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:    e.clock.Now().UTC(),
		EventType:    eventType,
		UserID:       userID,
		Module:       module.String(),
		CredentialID: credentialID,
		IP:           clientIPFromContext(ctx),
		Success:      success,
		Metadata:     metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrFactorNotEnabled),
		errors.Is(err, ErrTOTPFeatureDisabled),
		errors.Is(err, ErrWebAuthnFeatureDisabled):
		return auditErrNotEnabled
	case errors.Is(err, ErrUnknownModule):
		return auditErrUnknownModule
	case errors.Is(err, ErrTOTPInvalid):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrCannotRegister):
		return auditErrCannotRegister
	case errors.Is(err, ErrCredentialLimit):
		return auditErrCredentialLimit
	case errors.Is(err, ErrCredentialNotFound):
		return auditErrCredentialMissing
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeMissing
	case errors.Is(err, ErrCorruptCredential):
		return auditErrCorrupt
	case errors.Is(err, ErrDecryptionFailed),
		errors.Is(err, ErrEncryptionNotConfigured):
		return auditErrDecryption
	case errors.Is(err, ErrVerificationUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
