package mfakit

import (
	"context"
	"fmt"
	"time"
)

// Engine defines a public type used by mfakit APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config     Config
	store      CredentialStore
	cipher     *cipherService
	totp       *totpManager
	webauthn   *webauthnManager
	replay     *replayCache
	challenges *challengeStore
	audit      *auditDispatcher
	metrics    *Metrics
	clock      Clock
	enrollment EnrollmentPolicy
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeVerify(start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(MetricVerifyLatency, e.clock.Now().Sub(start))
}

// VerifyFactor verifies a second-factor proof against the named module.
// The token is the TOTP code, a recovery or scratch code, or for
// WebAuthn the browser's serialized assertion response. A rejected
// proof is reported as OK=false with a nil error; errors are reserved
// for misconfiguration, corruption, and backend failures.
func (e *Engine) VerifyFactor(ctx context.Context, userID string, module Module, token string) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}

	switch module {
	case ModuleTOTP:
		return e.VerifyTOTP(ctx, userID, token)
	case ModuleWebAuthn:
		return e.FinishWebAuthnAuthentication(ctx, userID, []byte(token))
	case ModuleRecoveryCode:
		return e.VerifyRecoveryCode(ctx, userID, token)
	default:
		return nil, ErrUnknownModule
	}
}

/*
====================================
CREDENTIAL ACCESS HELPERS
====================================
*/

// loadCredentials fetches and decodes every credential of one user.
// Any record that fails to decode aborts the whole load.
func (e *Engine) loadCredentials(ctx context.Context, userID string) ([]*credential, error) {
	records, err := e.store.FindCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	creds := make([]*credential, 0, len(records))
	for _, rec := range records {
		c, err := decodeCredential(rec)
		if err != nil {
			e.metricInc(MetricCorruptCredential)
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, nil
}

func filterModule(creds []*credential, module Module) []*credential {
	var out []*credential
	for _, c := range creds {
		if c.module == module {
			out = append(out, c)
		}
	}
	return out
}

// totpCredential returns the user's TOTP credential, or nil when none
// exists. A user holds at most one.
func totpCredential(creds []*credential) *credential {
	for _, c := range creds {
		if c.module == ModuleTOTP {
			return c
		}
	}
	return nil
}

// recoveryCredential returns the user's standalone recovery-code
// credential. Holding more than one is a structural violation.
func recoveryCredential(creds []*credential) (*credential, error) {
	var found *credential
	for _, c := range creds {
		if c.module != ModuleRecoveryCode {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: multiple recovery credentials", ErrCorruptCredential)
		}
		found = c
	}
	return found, nil
}

func (e *Engine) saveCredential(ctx context.Context, c *credential) error {
	rec, err := c.encode(e.cipher)
	if err != nil {
		return err
	}
	if err := e.store.UpdateCredential(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return nil
}

func (e *Engine) createCredential(ctx context.Context, c *credential) error {
	rec, err := c.encode(e.cipher)
	if err != nil {
		return err
	}
	if err := e.store.CreateCredential(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return nil
}

func (e *Engine) activeModule(ctx context.Context, userID string) (string, error) {
	module, err := e.store.ActiveModule(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return module, nil
}

func (e *Engine) setActiveModule(ctx context.Context, userID string, module Module) error {
	if err := e.store.SetActiveModule(ctx, userID, module.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	e.emitAudit(ctx, auditEventActiveModuleChanged, true, userID, module, "", nil, nil)
	return nil
}

func (e *Engine) clearActiveModule(ctx context.Context, userID string) error {
	if err := e.store.SetActiveModule(ctx, userID, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return nil
}

// checkEnrollment runs the external policy hook and the per-user
// credential cap before any registration.
func (e *Engine) checkEnrollment(ctx context.Context, userID string, creds []*credential) error {
	if e.enrollment != nil {
		if err := e.enrollment(ctx, userID); err != nil {
			return fmt.Errorf("%w: %v", ErrCannotRegister, err)
		}
	}
	if len(creds) >= e.config.Policy.MaxCredentialsPerUser {
		return ErrCredentialLimit
	}
	return nil
}

// enforceSingleFactor removes the other generator module's credentials
// when the single-active-factor policy is on, so enrolling a new module
// switches the user instead of failing. Recovery codes are untouched.
// It returns the credential set with the purged entries dropped.
func (e *Engine) enforceSingleFactor(ctx context.Context, userID string, creds []*credential, enrolling Module) ([]*credential, error) {
	if !e.config.Policy.SingleActiveFactor {
		return creds, nil
	}

	remaining := make([]*credential, 0, len(creds))
	var purged Module
	var removed bool
	for _, c := range creds {
		if (c.module == ModuleTOTP || c.module == ModuleWebAuthn) && c.module != enrolling {
			if err := e.store.RemoveCredential(ctx, userID, c.rec.ID); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
			}
			e.metricInc(MetricCredentialRemoved)
			e.emitAudit(ctx, auditEventCredentialRemoved, true, userID, c.module, c.rec.ID, nil, nil)
			purged = c.module
			removed = true
			continue
		}
		remaining = append(remaining, c)
	}
	if !removed {
		return creds, nil
	}
	if err := e.reconcileActiveModuleAfter(ctx, userID, remaining, purged); err != nil {
		return nil, err
	}
	return remaining, nil
}
