package mfakit

import "testing"

func TestReportReflectsEffectivePolicy(t *testing.T) {
	cfg := factorTestConfig()
	engine, _, _, done := newFactorEngine(t, cfg)
	defer done()

	report := engine.Report()
	if !report.TOTPEnabled {
		t.Fatal("expected TOTP enabled")
	}
	if report.TOTPPeriodSeconds != cfg.TOTP.Period {
		t.Fatalf("period = %d, want %d", report.TOTPPeriodSeconds, cfg.TOTP.Period)
	}
	if report.TOTPWindowRadius != cfg.TOTP.WindowRadius {
		t.Fatalf("radius = %d, want %d", report.TOTPWindowRadius, cfg.TOTP.WindowRadius)
	}
	if !report.ReplayProtectionActive {
		t.Fatal("expected replay protection active")
	}
	if report.WebAuthnEnabled {
		t.Fatal("webauthn should be off in this config")
	}
	if !report.RecoveryCodesEnabled || report.RecoveryCodeCount != cfg.Recovery.CodeCount {
		t.Fatalf("recovery = %v/%d, want enabled/%d",
			report.RecoveryCodesEnabled, report.RecoveryCodeCount, cfg.Recovery.CodeCount)
	}
	if report.EncryptionAtRest {
		t.Fatal("no encryption key configured, report should say so")
	}
	if report.EncryptionCipher != "" {
		t.Fatalf("cipher name = %q, want empty without a key", report.EncryptionCipher)
	}
}

func TestReportNamesConfiguredCipher(t *testing.T) {
	cfg := factorTestConfig()
	cfg.Encryption.Key = testKeyHex
	cfg.Encryption.Cipher = CipherXChaCha20
	engine, _, _, done := newFactorEngine(t, cfg)
	defer done()

	report := engine.Report()
	if !report.EncryptionAtRest {
		t.Fatal("expected encryption at rest")
	}
	if report.EncryptionCipher != "xchacha20" {
		t.Fatalf("cipher = %q, want xchacha20", report.EncryptionCipher)
	}
}

func TestReportNilEngine(t *testing.T) {
	var engine *Engine
	if report := engine.Report(); report != (SecurityReport{}) {
		t.Fatalf("nil engine report = %+v, want zero value", report)
	}
}
