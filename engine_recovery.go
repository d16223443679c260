package mfakit

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"
	"unicode"

	"github.com/arlogic/mfakit/internal"
	"github.com/google/uuid"
)

// normalizeToken canonicalizes a user-typed code: every whitespace rune
// is stripped and letters are upcased, so "abcd 1234" and "ABCD1234"
// compare equal.
func normalizeToken(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// GenerateRecoveryCodes mints a full batch of single-use recovery codes
// for the user, replacing any existing pool. The plaintext codes are
// returned exactly once; afterwards only consumption is possible.
func (e *Engine) GenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if !e.config.Recovery.Enabled {
		return nil, ErrFactorNotEnabled
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred, err := recoveryCredential(creds)
	if err != nil {
		return nil, err
	}

	codes, err := internal.NewCodeBatch(e.config.Recovery.CodeCount, e.config.Recovery.CodeLength)
	if err != nil {
		return nil, err
	}

	if cred != nil {
		cred.recovery.Generation++
		if err := cred.recovery.setCodeList(codes); err != nil {
			return nil, err
		}
		if err := e.saveCredential(ctx, cred); err != nil {
			return nil, err
		}
	} else {
		if err := e.checkEnrollment(ctx, userID, creds); err != nil {
			e.emitAudit(ctx, auditEventRecoveryCodesGenerated, false, userID, ModuleRecoveryCode, "", err, nil)
			return nil, err
		}
		cred, err = e.createRecoveryPool(ctx, userID, codes)
		if err != nil {
			return nil, err
		}
	}

	e.metricInc(MetricRecoveryCodesRegenerated)
	e.emitAudit(ctx, auditEventRecoveryCodesGenerated, true, userID, ModuleRecoveryCode, cred.rec.ID, nil, func() map[string]string {
		return map[string]string{
			"count":      strconv.Itoa(len(codes)),
			"generation": strconv.Itoa(cred.recovery.Generation),
		}
	})
	return codes, nil
}

// EnsureRecoveryCodes is the idempotent form of pool creation: a user
// who already holds a recovery credential is left untouched and nil
// codes are returned, otherwise a pool is created from the caller's
// seed codes when given or from a fresh random batch. Newly minted
// plaintext codes are returned exactly once.
func (e *Engine) EnsureRecoveryCodes(ctx context.Context, userID string, seed ...string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if !e.config.Recovery.Enabled {
		return nil, ErrFactorNotEnabled
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred, err := recoveryCredential(creds)
	if err != nil {
		return nil, err
	}
	if cred != nil {
		return nil, nil
	}

	if err := e.checkEnrollment(ctx, userID, creds); err != nil {
		e.emitAudit(ctx, auditEventRecoveryCodesGenerated, false, userID, ModuleRecoveryCode, "", err, nil)
		return nil, err
	}

	codes := seed
	if len(codes) == 0 {
		codes, err = internal.NewCodeBatch(e.config.Recovery.CodeCount, e.config.Recovery.CodeLength)
		if err != nil {
			return nil, err
		}
	}
	cred, err = e.createRecoveryPool(ctx, userID, codes)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRecoveryCodesRegenerated)
	e.emitAudit(ctx, auditEventRecoveryCodesGenerated, true, userID, ModuleRecoveryCode, cred.rec.ID, nil, func() map[string]string {
		return map[string]string{
			"count":  strconv.Itoa(len(codes)),
			"seeded": strconv.FormatBool(len(seed) > 0),
		}
	})
	return codes, nil
}

// createRecoveryPool persists a first-generation standalone recovery
// credential holding the given codes.
func (e *Engine) createRecoveryPool(ctx context.Context, userID string, codes []string) (*credential, error) {
	payload := &recoveryPayload{Generation: 1}
	if err := payload.setCodeList(codes); err != nil {
		return nil, err
	}
	cred := &credential{
		rec: CredentialRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Name:      "recovery codes",
			CreatedAt: e.clock.Now().UTC(),
		},
		module:   ModuleRecoveryCode,
		recovery: payload,
	}
	if err := e.createCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// AddRecoveryCodes appends count extra codes to the user's existing
// pool without invalidating the unused ones, and returns only the new
// codes.
func (e *Engine) AddRecoveryCodes(ctx context.Context, userID string, count int) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if !e.config.Recovery.Enabled || count <= 0 {
		return nil, ErrFactorNotEnabled
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred, err := recoveryCredential(creds)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrFactorNotEnabled
	}

	existing, err := cred.recovery.codeList(e.cipher)
	if err != nil {
		return nil, err
	}
	fresh, err := internal.NewCodeBatch(count, e.config.Recovery.CodeLength)
	if err != nil {
		return nil, err
	}
	if err := cred.recovery.setCodeList(append(existing, fresh...)); err != nil {
		return nil, err
	}
	if err := e.saveCredential(ctx, cred); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventRecoveryCodesGenerated, true, userID, ModuleRecoveryCode, cred.rec.ID, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(count), "appended": "true"}
	})
	return fresh, nil
}

// VerifyRecoveryCode consumes a single-use fallback code. Legacy
// scratch tokens attached to the TOTP credential are tried first, then
// the standalone recovery pool. Consuming the pool's last code mints a
// full replacement batch in the same operation and returns it in
// ReplacementCodes.
func (e *Engine) VerifyRecoveryCode(ctx context.Context, userID, token string) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}

	start := e.clock.Now()
	defer e.observeVerify(start)

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	totpCred := totpCredential(creds)
	recCred, err := recoveryCredential(creds)
	if err != nil {
		return nil, err
	}

	hasScratch := totpCred != nil && totpCred.totp.Confirmed && len(totpCred.totp.ScratchHashes) > 0
	if !hasScratch && (recCred == nil || !e.config.Recovery.Enabled) {
		return nil, ErrFactorNotEnabled
	}

	if hasScratch {
		matched, migrated, err := e.verifyScratchToken(ctx, userID, token, totpCred, recCred)
		if err != nil {
			return nil, err
		}
		if matched {
			return &VerifyResult{
				OK:               true,
				Module:           ModuleTOTP,
				CredentialID:     totpCred.rec.ID,
				ReplacementCodes: migrated,
			}, nil
		}
	}

	if recCred == nil || !e.config.Recovery.Enabled {
		e.metricInc(MetricRecoveryCodeFailed)
		e.emitAudit(ctx, auditEventRecoveryCodeFailed, false, userID, ModuleRecoveryCode, "", nil, nil)
		return &VerifyResult{Module: ModuleRecoveryCode}, nil
	}

	result := &VerifyResult{Module: ModuleRecoveryCode, CredentialID: recCred.rec.ID}

	matched, replacements, err := e.consumePoolCode(ctx, userID, token, recCred)
	if err != nil {
		return nil, err
	}
	if !matched {
		e.metricInc(MetricRecoveryCodeFailed)
		e.emitAudit(ctx, auditEventRecoveryCodeFailed, false, userID, ModuleRecoveryCode, recCred.rec.ID, nil, nil)
		return result, nil
	}

	result.OK = true
	result.ReplacementCodes = replacements
	return result, nil
}

// consumePoolCode splices a matching code out of the standalone pool,
// minting a full replacement batch when the last one goes so the user
// is never left without a fallback. It reports whether the token
// matched and any replacement codes.
func (e *Engine) consumePoolCode(ctx context.Context, userID, token string, recCred *credential) (bool, []string, error) {
	codes, err := recCred.recovery.codeList(e.cipher)
	if err != nil {
		return false, nil, err
	}

	canonical := normalizeToken(token)
	match := -1
	for i, code := range codes {
		if subtle.ConstantTimeCompare([]byte(normalizeToken(code)), []byte(canonical)) == 1 {
			match = i
		}
	}
	if match < 0 {
		return false, nil, nil
	}

	remaining := append(codes[:match:match], codes[match+1:]...)
	var replacements []string
	if len(remaining) == 0 {
		fresh, err := internal.NewCodeBatch(e.config.Recovery.CodeCount, e.config.Recovery.CodeLength)
		if err != nil {
			return false, nil, err
		}
		remaining = fresh
		replacements = fresh
		recCred.recovery.Generation++
		e.metricInc(MetricRecoveryCodesRegenerated)
	}
	if err := recCred.recovery.setCodeList(remaining); err != nil {
		return false, nil, err
	}
	recCred.touch(e.clock.Now().UTC())
	if err := e.saveCredential(ctx, recCred); err != nil {
		return false, nil, err
	}

	e.metricInc(MetricRecoveryCodeUsed)
	e.emitAudit(ctx, auditEventRecoveryCodeUsed, true, userID, ModuleRecoveryCode, recCred.rec.ID, nil, func() map[string]string {
		md := map[string]string{"remaining": strconv.Itoa(len(remaining))}
		if len(replacements) > 0 {
			md["regenerated"] = "true"
		}
		return md
	})
	return true, replacements, nil
}
