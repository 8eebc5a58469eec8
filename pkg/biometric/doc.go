// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinvault.
//
// go-pinvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package biometric implements the authenticator: a capability check and an
// interactive, user-verifying challenge that can be bound to one pending
// cryptographic operation.
//
// The challenge is a WebAuthn assertion ceremony (go-webauthn) played against
// a Sensor with user verification required. A sample that does not carry a
// verified user is rejected, reported through OnAuthenticationFailed, and the
// prompt stays open. A verified sample ends the prompt successfully; when a
// CryptoObject is bound, the authenticator first authorizes it with a grant
// for exactly one Finalize.
//
// Enrollment is a WebAuthn registration ceremony with user verification
// required. The resulting credential is persisted in a storage.Backend and is
// the only credential the authenticator accepts.
//
// Attempt limiting and lockout are enforced here: after MaxAttempts rejected
// samples the prompt ends with ErrorLockout and new prompts fail immediately
// until LockoutDuration has elapsed.
//
// Example:
//
//	auth, _ := biometric.New(&biometric.Config{Sensor: sensor, Storage: backend, Issuer: issuer})
//	if auth.CanAuthenticate(ctx, types.StrengthStrong) == types.CapabilityReady {
//	    prompt, _ := auth.Authenticate(ctx, biometric.DefaultPromptInfo(), op, callback)
//	    prompt.Wait()
//	}
package biometric
