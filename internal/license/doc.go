// Package license implements offline-capable license validation and renewal
// for a VendDesk installation.
//
// # Architecture Overview
//
// The subsystem consists of several components, wired together by the
// composition root in internal/app:
//
//   - Store: durable storage of the signed license token, preferring the
//     OS keyring with an encrypted-file fallback
//   - Verifier: cryptographic verification and strict decoding of tokens
//     into Claims
//   - HubClient: the activation/renewal call to the licensing Hub
//   - Service: activation orchestration and time-based status resolution
//   - Scheduler: the background renewal loop
//   - Guards: startup and per-request allow/deny decisions
//
// # Validation Flow
//
// A status query never requires a live Hub connection:
//
//  1. Load the stored token (keyring or encrypted file)
//  2. Verify signature and decode strict Claims
//  3. Classify against the clock: active, offline_grace, or expired
//
// The Verifier deliberately does not evaluate expiry; signature validity
// and business-time validity are resolved independently so each can be
// tested on its own.
//
// # Offline Grace
//
// A license whose expiry has passed is still honored for the grace window
// carried in its claims (falling back to OFFLINE_GRACE_DAYS). The renewal
// Scheduler proactively re-activates before expiry; a failed renewal inside
// the grace window is a warning, never a revocation. Denial is owned
// exclusively by the guards.
//
// # Security Measures
//
//   - RS256/ES256 signature verification against a configured public key
//   - AES-256-GCM encryption of the fallback credential file with an
//     scrypt key derived from the device identity
//   - Atomic replace-on-write for the fallback file
//   - Rate limiting on activation attempts
//   - License keys and tokens are masked in all log output
//
// When no public key is configured the Verifier decodes tokens without
// signature checking. This reduced-trust mode is intended for local
// development only and is logged prominently.
package license
