package mfakit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/arlogic/mfakit/internal"
	"github.com/google/uuid"
)

// BeginWebAuthnRegistration opens a registration ceremony for the user
// and returns the serialized credential-creation options. Credentials
// the user already holds are placed on the exclude list. Any earlier
// unfinished registration challenge for the user is replaced.
func (e *Engine) BeginWebAuthnRegistration(ctx context.Context, userID string) (*WebAuthnRegistrationStart, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if e.webauthn == nil {
		return nil, ErrWebAuthnFeatureDisabled
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.checkEnrollment(ctx, userID, creds); err != nil {
		e.emitAudit(ctx, auditEventWebAuthnRegisterStarted, false, userID, ModuleWebAuthn, "", err, nil)
		return nil, err
	}
	creds, err = e.enforceSingleFactor(ctx, userID, creds, ModuleWebAuthn)
	if err != nil {
		e.emitAudit(ctx, auditEventWebAuthnRegisterStarted, false, userID, ModuleWebAuthn, "", err, nil)
		return nil, err
	}

	user, err := e.webauthnUser(userID, creds)
	if err != nil {
		return nil, err
	}

	options, session, err := e.webauthn.BeginRegistration(user)
	if err != nil {
		return nil, fmt.Errorf("webauthn registration options: %w", err)
	}
	if err := e.challenges.Save(ctx, userID, ceremonyRegistration, session, e.config.WebAuthn.ChallengeTTL); err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encode webauthn options: %w", err)
	}

	e.metricInc(MetricWebAuthnRegistrationStarted)
	e.emitAudit(ctx, auditEventWebAuthnRegisterStarted, true, userID, ModuleWebAuthn, "", nil, nil)
	return &WebAuthnRegistrationStart{OptionsJSON: optionsJSON}, nil
}

// FinishWebAuthnRegistration completes a registration ceremony with the
// browser's attestation response and stores the new credential. The
// pending challenge is consumed whether or not the response verifies.
func (e *Engine) FinishWebAuthnRegistration(ctx context.Context, userID, friendlyName string, responseJSON []byte) (*CredentialSummary, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if e.webauthn == nil {
		return nil, ErrWebAuthnFeatureDisabled
	}

	session, err := e.challenges.Take(ctx, userID, ceremonyRegistration)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			e.metricInc(MetricWebAuthnChallengeExpired)
		}
		return nil, err
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := e.webauthnUser(userID, creds)
	if err != nil {
		return nil, err
	}

	waCred, err := e.webauthn.FinishRegistration(user, session, responseJSON)
	if err != nil {
		e.metricInc(MetricWebAuthnFailure)
		e.emitAudit(ctx, auditEventWebAuthnRegistered, false, userID, ModuleWebAuthn, "", nil, func() map[string]string {
			return map[string]string{"reason": "attestation_rejected"}
		})
		return nil, fmt.Errorf("webauthn attestation: %w", err)
	}

	if friendlyName == "" {
		friendlyName = "security key"
	}
	now := e.clock.Now().UTC()
	cred := &credential{
		rec: CredentialRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Name:      friendlyName,
			CreatedAt: now,
		},
		module:   ModuleWebAuthn,
		webauthn: payloadFromWebAuthnCredential(waCred, user.handle),
	}
	if err := e.createCredential(ctx, cred); err != nil {
		return nil, err
	}
	if err := e.setActiveModule(ctx, userID, ModuleWebAuthn); err != nil {
		return nil, err
	}

	e.metricInc(MetricWebAuthnRegistrationCompleted)
	e.metricInc(MetricCredentialRegistered)
	e.emitAudit(ctx, auditEventWebAuthnRegistered, true, userID, ModuleWebAuthn, cred.rec.ID, nil, nil)

	summary := cred.summary(e.cipher)
	return &summary, nil
}

// BeginWebAuthnAuthentication opens an assertion ceremony scoped to the
// user's registered credentials. A user with no WebAuthn credential
// yields [ErrFactorNotEnabled] so callers can fall through to another
// factor.
func (e *Engine) BeginWebAuthnAuthentication(ctx context.Context, userID string) (*WebAuthnAuthenticationStart, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if e.webauthn == nil {
		return nil, ErrWebAuthnFeatureDisabled
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(filterModule(creds, ModuleWebAuthn)) == 0 {
		return nil, ErrFactorNotEnabled
	}

	user, err := e.webauthnUser(userID, creds)
	if err != nil {
		return nil, err
	}

	options, session, err := e.webauthn.BeginAuthentication(user)
	if err != nil {
		return nil, fmt.Errorf("webauthn assertion options: %w", err)
	}
	if err := e.challenges.Save(ctx, userID, ceremonyAuthentication, session, e.config.WebAuthn.ChallengeTTL); err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encode webauthn options: %w", err)
	}

	e.emitAudit(ctx, auditEventWebAuthnAuthStarted, true, userID, ModuleWebAuthn, "", nil, nil)
	return &WebAuthnAuthenticationStart{OptionsJSON: optionsJSON}, nil
}

// FinishWebAuthnAuthentication validates the browser's assertion
// response. The pending challenge is consumed unconditionally, a failed
// assertion is OK=false with no error, and a successful one persists
// the updated signature counter before reporting success. A counter
// that fails the clone heuristic rejects the assertion.
func (e *Engine) FinishWebAuthnAuthentication(ctx context.Context, userID string, responseJSON []byte) (*VerifyResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}
	if e.webauthn == nil {
		return nil, ErrWebAuthnFeatureDisabled
	}

	start := e.clock.Now()
	defer e.observeVerify(start)

	session, err := e.challenges.Take(ctx, userID, ceremonyAuthentication)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			e.metricInc(MetricWebAuthnChallengeExpired)
		}
		return nil, err
	}

	creds, err := e.loadCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	waCreds := filterModule(creds, ModuleWebAuthn)
	if len(waCreds) == 0 {
		return nil, ErrFactorNotEnabled
	}

	user, err := e.webauthnUser(userID, creds)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Module: ModuleWebAuthn}

	assertion, err := e.webauthn.FinishAuthentication(user, session, responseJSON)
	if err != nil {
		e.metricInc(MetricWebAuthnFailure)
		e.emitAudit(ctx, auditEventWebAuthnFailure, false, userID, ModuleWebAuthn, "", nil, nil)
		return result, nil
	}

	var matched *credential
	for _, c := range waCreds {
		if string(c.webauthn.CredentialID) == string(assertion.ID) {
			matched = c
			break
		}
	}
	if matched == nil {
		e.metricInc(MetricWebAuthnFailure)
		e.emitAudit(ctx, auditEventWebAuthnFailure, false, userID, ModuleWebAuthn, "", nil, nil)
		return result, nil
	}
	result.CredentialID = matched.rec.ID

	if err := matched.webauthn.updateSignCount(assertion.Authenticator.SignCount); err != nil {
		e.metricInc(MetricWebAuthnCloneSuspected)
		e.emitAudit(ctx, auditEventWebAuthnCloneSuspected, false, userID, ModuleWebAuthn, matched.rec.ID, nil, func() map[string]string {
			return map[string]string{
				"stored_count":   strconv.FormatUint(uint64(matched.webauthn.SignCount), 10),
				"asserted_count": strconv.FormatUint(uint64(assertion.Authenticator.SignCount), 10),
			}
		})
		return result, nil
	}
	if assertion.Authenticator.CloneWarning {
		e.metricInc(MetricWebAuthnCloneSuspected)
		e.emitAudit(ctx, auditEventWebAuthnCloneSuspected, false, userID, ModuleWebAuthn, matched.rec.ID, nil, nil)
		return result, nil
	}

	matched.webauthn.BackupState = assertion.Flags.BackupState
	matched.touch(e.clock.Now().UTC())
	if err := e.saveCredential(ctx, matched); err != nil {
		return nil, err
	}

	result.OK = true
	e.metricInc(MetricWebAuthnSuccess)
	e.emitAudit(ctx, auditEventWebAuthnSuccess, true, userID, ModuleWebAuthn, matched.rec.ID, nil, nil)
	return result, nil
}

// webauthnUser assembles the webauthn.User adapter, reusing the stable
// user handle carried by existing credentials or minting one for a
// first registration.
func (e *Engine) webauthnUser(userID string, creds []*credential) (*factorUser, error) {
	waCreds := filterModule(creds, ModuleWebAuthn)
	payloads := make([]*webauthnPayload, 0, len(waCreds))
	var handle []byte
	for _, c := range waCreds {
		payloads = append(payloads, c.webauthn)
		if handle == nil && len(c.webauthn.UserHandle) == internal.UserHandleSize {
			handle = c.webauthn.UserHandle
		}
	}
	if handle == nil {
		var err error
		handle, err = internal.NewUserHandle()
		if err != nil {
			return nil, err
		}
	}
	return newFactorUser(userID, handle, payloads), nil
}
