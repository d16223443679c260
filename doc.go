// Package mfakit provides a second-factor verification and credential
// lifecycle engine: TOTP codes with replay prevention, WebAuthn/FIDO2
// registration and authentication ceremonies, and single-use recovery codes,
// with optional authenticated encryption of secret material at rest.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// mfakit is the verification core only. It owns the credential model, the
// cryptographic checks, and the anti-replay state; it does not own users,
// sessions, HTTP routing, rate limiting, or notification delivery. Those
// belong to the host application, which integrates through three narrow
// seams: a [CredentialStore] for persistence, a Redis client for the replay
// cache and WebAuthn challenge slots, and [Config].
//
// # What this package must NOT do
//
//   - Authenticate the primary factor. Callers verify the password (or
//     equivalent) before asking the engine about a second factor.
//   - Retry or rate limit. A failed verification is returned once; throttling
//     of repeated attempts is the caller's collaborator, invoked before the
//     engine.
//   - Distinguish failure reasons in its results. Wrong code, replayed code,
//     and counter regression all come back as a plain rejection; the
//     distinction is recorded in audit metadata only.
package mfakit
