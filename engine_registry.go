package mfakit

import (
	"context"
	"fmt"
)

// FactorState returns the user's aggregate second-factor posture: which
// modules are enabled, the active generator module, the remaining
// recovery pool size, and a redacted credential listing.
func (e *Engine) FactorState(ctx context.Context, userID string) (*UserFactorState, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := recoveryCredential(creds); err != nil {
		return nil, err
	}
	active, err := e.activeModule(ctx, userID)
	if err != nil {
		return nil, err
	}

	state := &UserFactorState{
		UserID:       userID,
		ActiveModule: active,
		Credentials:  make([]CredentialSummary, 0, len(creds)),
	}
	for _, c := range creds {
		state.Credentials = append(state.Credentials, c.summary(e.cipher))
		switch c.module {
		case ModuleTOTP:
			if c.totp.Confirmed {
				state.TOTPEnabled = true
			}
		case ModuleWebAuthn:
			state.WebAuthnEnabled = true
		case ModuleRecoveryCode:
			if codes, err := c.recovery.codeList(e.cipher); err == nil {
				state.RecoveryCodesRemaining = len(codes)
			}
		}
	}
	state.Enabled = state.TOTPEnabled || state.WebAuthnEnabled
	return state, nil
}

// RemoveCredential deletes one credential by id. When the last
// credential of the active module goes away, the active marker moves to
// a remaining generator module, or clears.
func (e *Engine) RemoveCredential(ctx context.Context, userID, credentialID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserRequired
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return err
	}
	var target *credential
	for _, c := range creds {
		if c.rec.ID == credentialID {
			target = c
			break
		}
	}
	if target == nil {
		return ErrCredentialNotFound
	}

	if err := e.store.RemoveCredential(ctx, userID, credentialID); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	e.metricInc(MetricCredentialRemoved)
	e.emitAudit(ctx, auditEventCredentialRemoved, true, userID, target.module, credentialID, nil, nil)

	return e.reconcileActiveModule(ctx, userID, creds, target)
}

// DisableModule removes every credential of one module for the user.
func (e *Engine) DisableModule(ctx context.Context, userID string, module Module) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserRequired
	}
	if module >= moduleCount {
		return ErrUnknownModule
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return err
	}
	targets := filterModule(creds, module)
	if len(targets) == 0 {
		return ErrFactorNotEnabled
	}

	for _, c := range targets {
		if err := e.store.RemoveCredential(ctx, userID, c.rec.ID); err != nil {
			return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
		}
		e.metricInc(MetricCredentialRemoved)
		e.emitAudit(ctx, auditEventCredentialRemoved, true, userID, module, c.rec.ID, nil, nil)
	}

	remaining := make([]*credential, 0, len(creds))
	for _, c := range creds {
		if c.module != module {
			remaining = append(remaining, c)
		}
	}
	return e.reconcileActiveModuleAfter(ctx, userID, remaining, module)
}

// DisableAllFactors removes every credential and clears the active
// module, returning the user to a no-second-factor state.
func (e *Engine) DisableAllFactors(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserRequired
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return err
	}
	for _, c := range creds {
		if err := e.store.RemoveCredential(ctx, userID, c.rec.ID); err != nil {
			return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
		}
		e.metricInc(MetricCredentialRemoved)
		e.emitAudit(ctx, auditEventCredentialRemoved, true, userID, c.module, c.rec.ID, nil, nil)
	}
	return e.clearActiveModule(ctx, userID)
}

// RenameCredential updates a credential's friendly name.
func (e *Engine) RenameCredential(ctx context.Context, userID, credentialID, name string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserRequired
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return err
	}
	for _, c := range creds {
		if c.rec.ID != credentialID {
			continue
		}
		c.rec.Name = name
		if err := e.saveCredential(ctx, c); err != nil {
			return err
		}
		e.emitAudit(ctx, auditEventCredentialRenamed, true, userID, c.module, credentialID, nil, nil)
		return nil
	}
	return ErrCredentialNotFound
}

// reconcileActiveModule recomputes the active marker after removing one
// credential from the previously loaded set.
func (e *Engine) reconcileActiveModule(ctx context.Context, userID string, loaded []*credential, removed *credential) error {
	remaining := make([]*credential, 0, len(loaded))
	for _, c := range loaded {
		if c.rec.ID != removed.rec.ID {
			remaining = append(remaining, c)
		}
	}
	return e.reconcileActiveModuleAfter(ctx, userID, remaining, removed.module)
}

func (e *Engine) reconcileActiveModuleAfter(ctx context.Context, userID string, remaining []*credential, removedModule Module) error {
	active, err := e.activeModule(ctx, userID)
	if err != nil {
		return err
	}
	if active != removedModule.String() {
		return nil
	}
	if len(filterModule(remaining, removedModule)) > 0 {
		return nil
	}

	// The active module lost its last credential. Fall back to the
	// other generator module when one is enrolled.
	for _, c := range remaining {
		switch c.module {
		case ModuleTOTP:
			if c.totp.Confirmed {
				return e.setActiveModule(ctx, userID, ModuleTOTP)
			}
		case ModuleWebAuthn:
			return e.setActiveModule(ctx, userID, ModuleWebAuthn)
		}
	}
	return e.clearActiveModule(ctx, userID)
}
