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

// Package vault is the caller that ties the authenticator, the keystore and
// the secret store together to save and reveal a single biometric-protected
// PIN.
//
// Every SavePIN and RevealPIN creates a pending keystore operation, shows one
// biometric prompt bound to it and finalizes the operation only after the
// prompt succeeded. No key is created while biometric authentication is not
// ready.
//
// Progress of the current operation is published to an optional
// StateListener:
//
//	Idle -> Prompting -> Succeeded
//	                  -> Failed -> Prompting ...
//	                  -> Error
//
// The state returns to Idle when the next operation starts.
package vault
