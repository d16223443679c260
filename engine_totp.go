package mfakit

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"strconv"

	"github.com/arlogic/mfakit/internal"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

const qrCodeSizePixels = 256

// BeginTOTPEnrollment provisions a new authenticator secret for the
// user and returns the material to display once: the base32 secret,
// the otpauth:// URI, a QR render of it, and any scratch tokens. The
// credential stays unconfirmed, and invisible to verification, until
// [Engine.ConfirmTOTPEnrollment] sees a valid code.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, userID string) (*TOTPEnrollment, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if !e.config.TOTP.Enabled {
		return nil, ErrTOTPFeatureDisabled
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Re-enrollment overwrites the existing TOTP credential in place,
	// so the policy and cap checks apply only to first-time setup.
	existing := totpCredential(creds)
	if existing == nil {
		if err := e.checkEnrollment(ctx, userID, creds); err != nil {
			e.emitAudit(ctx, auditEventTOTPEnrollStarted, false, userID, ModuleTOTP, "", err, nil)
			return nil, err
		}
		creds, err = e.enforceSingleFactor(ctx, userID, creds, ModuleTOTP)
		if err != nil {
			e.emitAudit(ctx, auditEventTOTPEnrollStarted, false, userID, ModuleTOTP, "", err, nil)
			return nil, err
		}
	}

	raw, secretB32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	uri := e.totp.ProvisionURI(secretB32, userID)

	png, err := qrcode.Encode(uri, qrcode.Medium, qrCodeSizePixels)
	if err != nil {
		return nil, err
	}

	var scratch []string
	var scratchHashes []string
	if n := e.config.TOTP.ScratchTokenCount; n > 0 {
		scratch, err = internal.NewCodeBatch(n, e.config.TOTP.ScratchTokenLength)
		if err != nil {
			return nil, err
		}
		scratchHashes = make([]string, len(scratch))
		for i, token := range scratch {
			sum := internal.HashCode(token)
			scratchHashes[i] = hex.EncodeToString(sum[:])
		}
	}

	payload := &totpPayload{
		Confirmed:     false,
		LastWindow:    -1,
		ScratchHashes: scratchHashes,
	}
	payload.Secret.set(raw)

	now := e.clock.Now().UTC()
	if existing != nil {
		existing.totp = payload
		existing.rec.CreatedAt = now
		if err := e.saveCredential(ctx, existing); err != nil {
			return nil, err
		}
		e.metricInc(MetricTOTPEnrollmentStarted)
		e.emitAudit(ctx, auditEventTOTPEnrollStarted, true, userID, ModuleTOTP, existing.rec.ID, nil, nil)
		return &TOTPEnrollment{
			CredentialID:  existing.rec.ID,
			Secret:        secretB32,
			URI:           uri,
			QRCodePNG:     png,
			ScratchTokens: scratch,
		}, nil
	}

	cred := &credential{
		rec: CredentialRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Name:      "authenticator",
			CreatedAt: now,
		},
		module: ModuleTOTP,
		totp:   payload,
	}
	if err := e.createCredential(ctx, cred); err != nil {
		return nil, err
	}

	e.metricInc(MetricTOTPEnrollmentStarted)
	e.emitAudit(ctx, auditEventTOTPEnrollStarted, true, userID, ModuleTOTP, cred.rec.ID, nil, nil)

	return &TOTPEnrollment{
		CredentialID:  cred.rec.ID,
		Secret:        secretB32,
		URI:           uri,
		QRCodePNG:     png,
		ScratchTokens: scratch,
	}, nil
}

// ConfirmTOTPEnrollment activates a pending TOTP credential once the
// user proves possession of the secret with a current code.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserRequired
	}
	if !e.config.TOTP.Enabled {
		return ErrTOTPFeatureDisabled
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return err
	}
	cred := pendingTOTPCredential(creds)
	if cred == nil {
		return ErrFactorNotEnabled
	}

	secret, err := cred.totp.Secret.open(e.cipher)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	ok, counter, err := e.totp.VerifyCode(secret, code, now, cred.totp.LastWindow)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEventTOTPEnrollConfirmed, false, userID, ModuleTOTP, cred.rec.ID, ErrTOTPInvalid, nil)
		return ErrTOTPInvalid
	}

	cred.totp.Confirmed = true
	cred.totp.LastWindow = counter
	cred.touch(now.UTC())
	if err := e.saveCredential(ctx, cred); err != nil {
		return err
	}
	if e.config.TOTP.EnforceReplayProtection {
		if err := e.replay.Mark(ctx, userID, normalizeToken(code), e.totp.replayTTL()); err != nil {
			return err
		}
	}
	if err := e.setActiveModule(ctx, userID, ModuleTOTP); err != nil {
		return err
	}

	e.metricInc(MetricTOTPEnrollmentConfirmed)
	e.emitAudit(ctx, auditEventTOTPEnrollConfirmed, true, userID, ModuleTOTP, cred.rec.ID, nil, nil)
	return nil
}

// VerifyTOTP checks a six digit code against the user's confirmed TOTP
// credential. A token that matches no window falls through to the
// user's scratch tokens and then the recovery pool; the result's Module
// reports which mechanism accepted it. An unenrolled user yields
// [ErrFactorNotEnabled]; a wrong, stale, or replayed code yields
// OK=false with no error.
func (e *Engine) VerifyTOTP(ctx context.Context, userID, code string) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if !e.config.TOTP.Enabled {
		return nil, ErrTOTPFeatureDisabled
	}

	start := e.clock.Now()
	defer e.observeVerify(start)

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred := totpCredential(creds)
	if cred == nil || !cred.totp.Confirmed {
		return nil, ErrFactorNotEnabled
	}

	secret, err := cred.totp.Secret.open(e.cipher)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Module: ModuleTOTP, CredentialID: cred.rec.ID}

	if e.config.TOTP.EnforceReplayProtection {
		seen, err := e.replay.Seen(ctx, userID, normalizeToken(code))
		if err != nil {
			return nil, err
		}
		if seen {
			e.metricInc(MetricTOTPReplayBlocked)
			e.emitAudit(ctx, auditEventTOTPReplayBlocked, false, userID, ModuleTOTP, cred.rec.ID, nil, nil)
			return result, nil
		}
	}

	now := e.clock.Now()
	ok, counter, err := e.totp.VerifyCode(secret, code, now, cred.totp.LastWindow)
	if err != nil {
		return nil, err
	}
	if !ok {
		// No window matched: the token may still be a fallback
		// credential. Legacy scratch tokens are tried first, then the
		// standalone recovery pool, before the attempt fails.
		recCred, err := recoveryCredential(creds)
		if err != nil {
			return nil, err
		}
		matched, migrated, err := e.verifyScratchToken(ctx, userID, code, cred, recCred)
		if err != nil {
			return nil, err
		}
		if matched {
			result.OK = true
			result.ReplacementCodes = migrated
			return result, nil
		}
		if recCred != nil && e.config.Recovery.Enabled {
			matched, replacements, err := e.consumePoolCode(ctx, userID, code, recCred)
			if err != nil {
				return nil, err
			}
			if matched {
				return &VerifyResult{
					OK:               true,
					Module:           ModuleRecoveryCode,
					CredentialID:     recCred.rec.ID,
					ReplacementCodes: replacements,
				}, nil
			}
		}
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPFailure, false, userID, ModuleTOTP, cred.rec.ID, nil, nil)
		return result, nil
	}

	cred.totp.LastWindow = counter
	cred.touch(now.UTC())
	if err := e.saveCredential(ctx, cred); err != nil {
		return nil, err
	}
	if e.config.TOTP.EnforceReplayProtection {
		if err := e.replay.Mark(ctx, userID, normalizeToken(code), e.totp.replayTTL()); err != nil {
			return nil, err
		}
	}

	result.OK = true
	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPSuccess, true, userID, ModuleTOTP, cred.rec.ID, nil, nil)
	return result, nil
}

// pendingTOTPCredential returns the unconfirmed TOTP credential staged
// by enrollment, if any.
func pendingTOTPCredential(creds []*credential) *credential {
	for _, c := range creds {
		if c.module == ModuleTOTP && !c.totp.Confirmed {
			return c
		}
	}
	return nil
}

// verifyScratchToken consumes a legacy scratch token attached to the
// TOTP credential. Consuming the last token migrates the user onto a
// standalone recovery pool when none exists yet; the minted codes are
// returned so the caller can surface them once. It reports whether a
// token matched.
func (e *Engine) verifyScratchToken(ctx context.Context, userID, token string, cred, recCred *credential) (bool, []string, error) {
	canonical := normalizeToken(token)
	if canonical == "" || len(cred.totp.ScratchHashes) == 0 {
		return false, nil, nil
	}
	sum := internal.HashCode(canonical)
	digest := hex.EncodeToString(sum[:])

	match := -1
	for i, stored := range cred.totp.ScratchHashes {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(digest)) == 1 {
			match = i
		}
	}
	if match < 0 {
		return false, nil, nil
	}

	cred.totp.ScratchHashes = append(cred.totp.ScratchHashes[:match], cred.totp.ScratchHashes[match+1:]...)
	cred.touch(e.clock.Now().UTC())
	if err := e.saveCredential(ctx, cred); err != nil {
		return false, nil, err
	}

	var migrated []string
	if len(cred.totp.ScratchHashes) == 0 && recCred == nil && e.config.Recovery.Enabled {
		codes, err := internal.NewCodeBatch(e.config.Recovery.CodeCount, e.config.Recovery.CodeLength)
		if err != nil {
			return false, nil, err
		}
		pool, err := e.createRecoveryPool(ctx, userID, codes)
		if err != nil {
			return false, nil, err
		}
		migrated = codes
		e.metricInc(MetricRecoveryCodesRegenerated)
		e.emitAudit(ctx, auditEventRecoveryCodesGenerated, true, userID, ModuleRecoveryCode, pool.rec.ID, nil, func() map[string]string {
			return map[string]string{
				"count":         strconv.Itoa(len(codes)),
				"migrated_from": "scratch_tokens",
			}
		})
	}

	e.metricInc(MetricScratchTokenUsed)
	e.emitAudit(ctx, auditEventScratchTokenUsed, true, userID, ModuleTOTP, cred.rec.ID, nil, func() map[string]string {
		return map[string]string{"remaining": strconv.Itoa(len(cred.totp.ScratchHashes))}
	})
	return true, migrated, nil
}
