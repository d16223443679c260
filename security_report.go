package mfakit

// SecurityReport is a point-in-time snapshot of the engine's effective
// security posture, suitable for logging at startup or exposing on an
// operator endpoint. It never contains key material.
type SecurityReport struct {
	TOTPEnabled             bool
	TOTPPeriodSeconds       int
	TOTPWindowRadius        int
	ReplayProtectionActive  bool
	ScratchTokensIssued     bool
	WebAuthnEnabled         bool
	WebAuthnRPID            string
	RecoveryCodesEnabled    bool
	RecoveryCodeCount       int
	EncryptionAtRest        bool
	EncryptionCipher        string
	SingleActiveFactor      bool
	MaxCredentialsPerUser   int
	AuditEnabled            bool
	MetricsEnabled          bool
	LatencyHistogramsActive bool
}

// Report describes the report operation and its observable behavior.
//
// Report does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Report() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cipherName := ""
	if e.config.Encryption.Key != "" {
		cipherName = e.config.Encryption.Cipher.String()
	}

	return SecurityReport{
		TOTPEnabled:             e.config.TOTP.Enabled,
		TOTPPeriodSeconds:       e.config.TOTP.Period,
		TOTPWindowRadius:        e.config.TOTP.WindowRadius,
		ReplayProtectionActive:  e.config.TOTP.Enabled && e.config.TOTP.EnforceReplayProtection,
		ScratchTokensIssued:     e.config.TOTP.Enabled && e.config.TOTP.ScratchTokenCount > 0,
		WebAuthnEnabled:         e.config.WebAuthn.Enabled,
		WebAuthnRPID:            e.config.WebAuthn.RPID,
		RecoveryCodesEnabled:    e.config.Recovery.Enabled,
		RecoveryCodeCount:       e.config.Recovery.CodeCount,
		EncryptionAtRest:        e.config.Encryption.Key != "",
		EncryptionCipher:        cipherName,
		SingleActiveFactor:      e.config.Policy.SingleActiveFactor,
		MaxCredentialsPerUser:   e.config.Policy.MaxCredentialsPerUser,
		AuditEnabled:            e.config.Audit.Enabled,
		MetricsEnabled:          e.config.Metrics.Enabled,
		LatencyHistogramsActive: e.config.Metrics.Enabled && e.config.Metrics.EnableLatencyHistograms,
	}
}
