package internaldefs

import (
	mfakit "github.com/arlogic/mfakit"
)

// CounterDef defines a public type used by mfakit APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   mfakit.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by mfakit APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   mfakit.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the factor engine.
var CounterDefs = []CounterDef{
	{ID: mfakit.MetricTOTPSuccess, Name: "mfakit_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: mfakit.MetricTOTPFailure, Name: "mfakit_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: mfakit.MetricTOTPReplayBlocked, Name: "mfakit_totp_replay_blocked_total", Help: "TOTP tokens rejected as replays."},
	{ID: mfakit.MetricTOTPEnrollmentStarted, Name: "mfakit_totp_enrollment_started_total", Help: "TOTP enrollments begun."},
	{ID: mfakit.MetricTOTPEnrollmentConfirmed, Name: "mfakit_totp_enrollment_confirmed_total", Help: "TOTP enrollments confirmed."},
	{ID: mfakit.MetricWebAuthnRegistrationStarted, Name: "mfakit_webauthn_registration_started_total", Help: "WebAuthn registration ceremonies begun."},
	{ID: mfakit.MetricWebAuthnRegistrationCompleted, Name: "mfakit_webauthn_registration_completed_total", Help: "WebAuthn registration ceremonies completed."},
	{ID: mfakit.MetricWebAuthnSuccess, Name: "mfakit_webauthn_success_total", Help: "Successful WebAuthn assertions."},
	{ID: mfakit.MetricWebAuthnFailure, Name: "mfakit_webauthn_failure_total", Help: "Failed WebAuthn assertions."},
	{ID: mfakit.MetricWebAuthnCloneSuspected, Name: "mfakit_webauthn_clone_suspected_total", Help: "Assertions rejected by the signature counter clone heuristic."},
	{ID: mfakit.MetricWebAuthnChallengeExpired, Name: "mfakit_webauthn_challenge_expired_total", Help: "Ceremony completions with no outstanding challenge."},
	{ID: mfakit.MetricRecoveryCodeUsed, Name: "mfakit_recovery_code_used_total", Help: "Recovery codes consumed."},
	{ID: mfakit.MetricRecoveryCodeFailed, Name: "mfakit_recovery_code_failed_total", Help: "Rejected recovery code attempts."},
	{ID: mfakit.MetricRecoveryCodesRegenerated, Name: "mfakit_recovery_codes_regenerated_total", Help: "Recovery pool regenerations."},
	{ID: mfakit.MetricScratchTokenUsed, Name: "mfakit_scratch_token_used_total", Help: "Legacy scratch tokens consumed."},
	{ID: mfakit.MetricCredentialRegistered, Name: "mfakit_credential_registered_total", Help: "Credentials registered."},
	{ID: mfakit.MetricCredentialRemoved, Name: "mfakit_credential_removed_total", Help: "Credentials removed."},
	{ID: mfakit.MetricCorruptCredential, Name: "mfakit_corrupt_credential_total", Help: "Credential records that failed structural decoding."},
}

// HistogramDefs is an exported constant or variable used by the factor engine.
var HistogramDefs = []HistogramDef{
	{ID: mfakit.MetricVerifyLatency, Name: "mfakit_verify_latency_seconds", Help: "Verification latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the factor engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the factor engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
