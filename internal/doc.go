// Package internal contains helper utilities that are intentionally private to
// mfakit, including secure random generation and user handle derivation.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//
// # What this package must NOT do
//
//   - Export types that appear in the public mfakit API.
//   - Be imported by any package outside the mfakit module.
package internal
