package mfakit

import (
	"bytes"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

type webauthnManager struct {
	web *webauthn.WebAuthn
}

func newWebAuthnManager(cfg WebAuthnConfig) (*webauthnManager, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	web, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
		// "none" attestation covers platform authenticators without
		// requiring an attestation CA trust store.
		AttestationPreference: protocol.PreferNoAttestation,
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    cfg.ChallengeTTL,
				TimeoutUVD: cfg.ChallengeTTL,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    cfg.ChallengeTTL,
				TimeoutUVD: cfg.ChallengeTTL,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn init: %w", err)
	}

	return &webauthnManager{web: web}, nil
}

func (m *webauthnManager) BeginRegistration(user *factorUser) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return m.web.BeginRegistration(
		user,
		webauthn.WithExclusions(user.descriptors()),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationPreferred,
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
		}),
	)
}

func (m *webauthnManager) FinishRegistration(user *factorUser, session *webauthn.SessionData, responseJSON []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(responseJSON))
	if err != nil {
		return nil, err
	}
	return m.web.CreateCredential(user, *session, parsed)
}

func (m *webauthnManager) BeginAuthentication(user *factorUser) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return m.web.BeginLogin(user)
}

func (m *webauthnManager) FinishAuthentication(user *factorUser, session *webauthn.SessionData, responseJSON []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(responseJSON))
	if err != nil {
		return nil, err
	}
	return m.web.ValidateLogin(user, *session, parsed)
}

/*
====================================
USER ADAPTER
====================================
*/

// factorUser adapts one engine user and their stored WebAuthn payloads
// to the webauthn.User interface.
type factorUser struct {
	id      string
	handle  []byte
	payload []*webauthnPayload
}

func newFactorUser(userID string, handle []byte, payloads []*webauthnPayload) *factorUser {
	return &factorUser{
		id:      userID,
		handle:  handle,
		payload: payloads,
	}
}

func (u *factorUser) WebAuthnID() []byte {
	return u.handle
}

func (u *factorUser) WebAuthnName() string {
	return u.id
}

func (u *factorUser) WebAuthnDisplayName() string {
	return u.id
}

func (u *factorUser) WebAuthnIcon() string {
	return ""
}

func (u *factorUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.payload))
	for i, p := range u.payload {
		creds[i] = p.toWebAuthnCredential()
	}
	return creds
}

// descriptors lists the user's registered credential IDs for the
// registration exclude list.
func (u *factorUser) descriptors() []protocol.CredentialDescriptor {
	var out []protocol.CredentialDescriptor
	for _, p := range u.payload {
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: p.CredentialID,
		})
	}
	return out
}

func (p *webauthnPayload) toWebAuthnCredential() webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, len(p.Transports))
	for i, t := range p.Transports {
		transports[i] = protocol.AuthenticatorTransport(t)
	}

	return webauthn.Credential{
		ID:              p.CredentialID,
		PublicKey:       p.PublicKey,
		AttestationType: p.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: p.BackupEligible,
			BackupState:    p.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    p.AAGUID,
			SignCount: p.SignCount,
		},
	}
}

func payloadFromWebAuthnCredential(cred *webauthn.Credential, handle []byte) *webauthnPayload {
	transports := make([]string, len(cred.Transport))
	for i, t := range cred.Transport {
		transports[i] = string(t)
	}

	return &webauthnPayload{
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      transports,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		UserHandle:      handle,
	}
}

// updateSignCount applies the post-assertion counter with the clone
// heuristic: an authenticator that has ever reported a non-zero counter
// must strictly increase it, while always-zero counters are tolerated.
func (p *webauthnPayload) updateSignCount(newCount uint32) error {
	if p.SignCount > 0 && newCount <= p.SignCount {
		return fmt.Errorf("sign count not increasing: got %d, expected > %d (possible cloned credential)", newCount, p.SignCount)
	}
	p.SignCount = newCount
	return nil
}
