package mfakit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFactorStateAggregatesModules(t *testing.T) {
	engine, store, clk, done := newFactorEngine(t, factorTestConfig())
	defer done()
	ctx := context.Background()

	_, totpID := enrollTOTP(t, engine, clk, "u1")
	if _, err := engine.GenerateRecoveryCodes(ctx, "u1"); err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}
	putWebAuthnCredential(t, store, "u1", "cred-wa", testWebAuthnPayload(testUserHandle(t), 12))

	state, err := engine.FactorState(ctx, "u1")
	if err != nil {
		t.Fatalf("FactorState failed: %v", err)
	}
	if !state.Enabled || !state.TOTPEnabled || !state.WebAuthnEnabled {
		t.Fatalf("unexpected flags: %+v", state)
	}
	if state.ActiveModule != "totp" {
		t.Fatalf("expected active module totp, got %q", state.ActiveModule)
	}
	if state.RecoveryCodesRemaining != 4 {
		t.Fatalf("expected 4 recovery codes, got %d", state.RecoveryCodesRemaining)
	}
	if len(state.Credentials) != 3 {
		t.Fatalf("expected 3 credential summaries, got %d", len(state.Credentials))
	}
	for _, summary := range state.Credentials {
		switch summary.ID {
		case totpID:
			if summary.Module != ModuleTOTP {
				t.Fatalf("unexpected module for %s: %v", summary.ID, summary.Module)
			}
		case "cred-wa":
			if summary.Module != ModuleWebAuthn || summary.SignCount != 12 {
				t.Fatalf("unexpected webauthn summary: %+v", summary)
			}
		default:
			if summary.Module != ModuleRecoveryCode || summary.CodesRemaining != 4 {
				t.Fatalf("unexpected recovery summary: %+v", summary)
			}
		}
	}
}

func TestFactorStateEmptyUser(t *testing.T) {
	engine, _, _, done := newFactorEngine(t, factorTestConfig())
	defer done()

	state, err := engine.FactorState(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("FactorState failed: %v", err)
	}
	if state.Enabled || len(state.Credentials) != 0 || state.ActiveModule != "" {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestVerifyFactorDispatch(t *testing.T) {
	engine, _, clk, done := newFactorEngine(t, factorTestConfig())
	defer done()
	ctx := context.Background()

	secret, _ := enrollTOTP(t, engine, clk, "u1")
	codes, err := engine.GenerateRecoveryCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	clk.Advance(30 * time.Second)
	result, err := engine.VerifyFactor(ctx, "u1", ModuleTOTP, codeAt(t, secret, clk.Now(), 30, 0))
	if err != nil || !result.OK || result.Module != ModuleTOTP {
		t.Fatalf("totp dispatch failed: %+v err=%v", result, err)
	}

	result, err = engine.VerifyFactor(ctx, "u1", ModuleRecoveryCode, codes[0])
	if err != nil || !result.OK || result.Module != ModuleRecoveryCode {
		t.Fatalf("recovery dispatch failed: %+v err=%v", result, err)
	}

	if _, err := engine.VerifyFactor(ctx, "u1", Module(99), "x"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
	if _, err := engine.VerifyFactor(ctx, "", ModuleTOTP, "x"); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
}

func TestParseModuleRoundTrip(t *testing.T) {
	for _, m := range []Module{ModuleTOTP, ModuleWebAuthn, ModuleRecoveryCode} {
		parsed, err := ParseModule(m.String())
		if err != nil || parsed != m {
			t.Fatalf("round trip failed for %v: parsed=%v err=%v", m, parsed, err)
		}
	}
	if _, err := ParseModule("sms"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
	if Module(99).String() != "unknown" {
		t.Fatal("expected unknown for out-of-range module")
	}
}

func TestSingleActiveFactorPolicySwitchesGenerator(t *testing.T) {
	cfg := webauthnTestConfig()
	cfg.Policy.SingleActiveFactor = true
	engine, store, clk, done := newFactorEngine(t, cfg)
	defer done()
	ctx := context.Background()

	enrollTOTP(t, engine, clk, "u1")
	if _, err := engine.GenerateRecoveryCodes(ctx, "u1"); err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	// Starting a WebAuthn registration purges the TOTP credential so
	// the user switches generators instead of being rejected.
	start, err := engine.BeginWebAuthnRegistration(ctx, "u1")
	if err != nil {
		t.Fatalf("expected registration options, got %v", err)
	}
	if len(start.OptionsJSON) == 0 {
		t.Fatal("expected serialized creation options")
	}

	state, err := engine.FactorState(ctx, "u1")
	if err != nil {
		t.Fatalf("FactorState failed: %v", err)
	}
	if state.TOTPEnabled {
		t.Fatal("expected totp credential to be purged")
	}
	if state.ActiveModule == "totp" {
		t.Fatalf("active module still %q after purge", state.ActiveModule)
	}
	// Recovery codes are exempt from the policy and survive the switch.
	if state.RecoveryCodesRemaining == 0 {
		t.Fatal("expected recovery pool to survive the generator switch")
	}

	// The other direction: enrolling TOTP purges a WebAuthn credential.
	putWebAuthnCredential(t, store, "u2", "cred-wa", testWebAuthnPayload(testUserHandle(t), 1))
	if _, err := engine.BeginTOTPEnrollment(ctx, "u2"); err != nil {
		t.Fatalf("expected totp enrollment to proceed, got %v", err)
	}
	state, err = engine.FactorState(ctx, "u2")
	if err != nil {
		t.Fatalf("FactorState failed: %v", err)
	}
	if state.WebAuthnEnabled {
		t.Fatal("expected webauthn credential to be purged")
	}
}

func TestSingleActiveFactorPolicyDisabledAllowsBoth(t *testing.T) {
	cfg := webauthnTestConfig()
	cfg.Policy.SingleActiveFactor = false
	engine, _, clk, done := newFactorEngine(t, cfg)
	defer done()
	ctx := context.Background()

	enrollTOTP(t, engine, clk, "u1")
	if _, err := engine.BeginWebAuthnRegistration(ctx, "u1"); err != nil {
		t.Fatalf("expected both generators to be allowed, got %v", err)
	}
}

func TestCredentialLimit(t *testing.T) {
	cfg := factorTestConfig()
	cfg.Policy.MaxCredentialsPerUser = 1
	engine, _, _, done := newFactorEngine(t, cfg)
	defer done()
	ctx := context.Background()

	if _, err := engine.GenerateRecoveryCodes(ctx, "u1"); err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}
	if _, err := engine.BeginTOTPEnrollment(ctx, "u1"); !errors.Is(err, ErrCredentialLimit) {
		t.Fatalf("expected ErrCredentialLimit, got %v", err)
	}
}

func TestRemoveCredentialReconcilesActiveModule(t *testing.T) {
	cfg := webauthnTestConfig()
	cfg.Policy.SingleActiveFactor = false
	engine, store, clk, done := newFactorEngine(t, cfg)
	defer done()
	ctx := context.Background()

	_, totpID := enrollTOTP(t, engine, clk, "u1")
	putWebAuthnCredential(t, store, "u1", "cred-wa", testWebAuthnPayload(testUserHandle(t), 3))

	if err := engine.RemoveCredential(ctx, "u1", totpID); err != nil {
		t.Fatalf("RemoveCredential failed: %v", err)
	}

	// The active marker moved to the remaining generator.
	state, err := engine.FactorState(ctx, "u1")
	if err != nil {
		t.Fatalf("FactorState failed: %v", err)
	}
	if state.ActiveModule != "webauthn" {
		t.Fatalf("expected fallback to webauthn, got %q", state.ActiveModule)
	}
	if state.TOTPEnabled {
		t.Fatal("expected totp to be gone")
	}

	if err := engine.RemoveCredential(ctx, "u1", "cred-wa"); err != nil {
		t.Fatalf("RemoveCredential failed: %v", err)
	}
	state, err = engine.FactorState(ctx, "u1")
	if err != nil {
		t.Fatalf("FactorState failed: %v", err)
	}
	if state.ActiveModule != "" || state.Enabled {
		t.Fatalf("expected cleared state, got %+v", state)
	}
}

func TestRemoveCredentialUnknownID(t *testing.T) {
	engine, _, _, done := newFactorEngine(t, factorTestConfig())
	defer done()

	if err := engine.RemoveCredential(context.Background(), "u1", "missing"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestDisableModuleRemovesAllOfOneFamily(t *testing.T) {
	engine, _, clk, done := newFactorEngine(t, factorTestConfig())
	defer done()
	ctx := context.Background()

	enrollTOTP(t, engine, clk, "u1")
	if _, err := engine.GenerateRecoveryCodes(ctx, "u1"); err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	if err := engine.DisableModule(ctx, "u1", ModuleTOTP); err != nil {
		t.Fatalf("DisableModule failed: %v", err)
	}

	state, err := engine.FactorState(ctx, "u1")
	if err != nil {
		t.Fatalf("FactorState failed: %v", err)
	}
	if state.TOTPEnabled || state.Enabled {
		t.Fatalf("expected totp disabled, got %+v", state)
	}
	if state.ActiveModule != "" {
		t.Fatalf("expected active module cleared, got %q", state.ActiveModule)
	}
	// The recovery pool survives.
	if state.RecoveryCodesRemaining != 4 {
		t.Fatalf("expected recovery codes to survive, got %d", state.RecoveryCodesRemaining)
	}

	if err := engine.DisableModule(ctx, "u1", ModuleTOTP); !errors.Is(err, ErrFactorNotEnabled) {
		t.Fatalf("expected ErrFactorNotEnabled on repeat, got %v", err)
	}
	if err := engine.DisableModule(ctx, "u1", Module(99)); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}

func TestDisableAllFactors(t *testing.T) {
	engine, store, clk, done := newFactorEngine(t, factorTestConfig())
	defer done()
	ctx := context.Background()

	enrollTOTP(t, engine, clk, "u1")
	if _, err := engine.GenerateRecoveryCodes(ctx, "u1"); err != nil {
		t.Fatalf("GenerateRecoveryCodes failed: %v", err)
	}

	if err := engine.DisableAllFactors(ctx, "u1"); err != nil {
		t.Fatalf("DisableAllFactors failed: %v", err)
	}
	if len(store.records["u1"]) != 0 {
		t.Fatalf("expected no credentials left, got %d", len(store.records["u1"]))
	}
	state, err := engine.FactorState(ctx, "u1")
	if err != nil {
		t.Fatalf("FactorState failed: %v", err)
	}
	if state.Enabled || state.ActiveModule != "" || state.RecoveryCodesRemaining != 0 {
		t.Fatalf("expected clean slate, got %+v", state)
	}
}

func TestRenameCredential(t *testing.T) {
	engine, store, clk, done := newFactorEngine(t, factorTestConfig())
	defer done()
	ctx := context.Background()

	_, totpID := enrollTOTP(t, engine, clk, "u1")

	if err := engine.RenameCredential(ctx, "u1", totpID, "work phone"); err != nil {
		t.Fatalf("RenameCredential failed: %v", err)
	}
	if rec := store.record(t, "u1", totpID); rec.Name != "work phone" {
		t.Fatalf("expected renamed credential, got %q", rec.Name)
	}
	if err := engine.RenameCredential(ctx, "u1", "missing", "x"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestStoreFailureSurfacesAsUnavailable(t *testing.T) {
	engine, store, clk, done := newFactorEngine(t, factorTestConfig())
	defer done()
	ctx := context.Background()

	enrollTOTP(t, engine, clk, "u1")
	store.failAll = true

	if _, err := engine.VerifyTOTP(ctx, "u1", "123456"); !errors.Is(err, ErrVerificationUnavailable) {
		t.Fatalf("expected ErrVerificationUnavailable, got %v", err)
	}
	if _, err := engine.FactorState(ctx, "u1"); !errors.Is(err, ErrVerificationUnavailable) {
		t.Fatalf("expected ErrVerificationUnavailable, got %v", err)
	}
}

func TestCorruptCredentialDetected(t *testing.T) {
	cfg := factorTestConfig()
	cfg.Metrics.Enabled = true
	engine, store, _, done := newFactorEngine(t, cfg)
	defer done()
	ctx := context.Background()

	store.put(CredentialRecord{
		ID:      "bad",
		UserID:  "u1",
		Module:  "totp",
		Payload: []byte("{not json"),
	})

	if _, err := engine.FactorState(ctx, "u1"); !errors.Is(err, ErrCorruptCredential) {
		t.Fatalf("expected ErrCorruptCredential, got %v", err)
	}
	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricCorruptCredential] != 1 {
		t.Fatalf("expected corrupt counter 1, got %d", snap.Counters[MetricCorruptCredential])
	}
}
