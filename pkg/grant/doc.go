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

// Package grant issues and verifies authorization grants.
//
// A grant is a short-lived EdDSA-signed JWT stating that the device user
// passed a user-verifying biometric challenge for exactly one pending
// cryptographic operation. The authenticator holds the Issuer; the keystore
// holds the matching Verifier and refuses to finalize an operation unless a
// grant naming that operation and key has been presented.
//
// Claims:
//
//	iss  issuer, default "go-pinvault/biometric"
//	aud  audience, default "go-pinvault/keystore"
//	op   operation ID the grant is bound to
//	key  key name the operation uses
//	uv   user verified, always true
//	jti  unique grant ID
//	iat, nbf, exp
//
// Example:
//
//	authority, _ := grant.NewAuthority(30 * time.Second)
//	token, _ := authority.Issuer().Issue(opID, "pin-key")
//	claims, err := authority.Verifier().Verify(token, opID, "pin-key")
package grant
