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

package keystore

import "errors"

var (
	// ErrKeyNotFound is returned when a named key does not exist.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrInvalidKeyName is returned for empty names or names containing a path separator.
	ErrInvalidKeyName = errors.New("keystore: invalid key name")

	// ErrInvalidIV is returned when a decryption IV is empty.
	ErrInvalidIV = errors.New("keystore: invalid initialization vector")

	// ErrUserNotAuthenticated is returned when Finalize runs on an
	// operation that was never authorized by a biometric challenge.
	ErrUserNotAuthenticated = errors.New("keystore: user not authenticated")

	// ErrAuthorizationExpired is returned when the grant expired before Finalize.
	ErrAuthorizationExpired = errors.New("keystore: authorization expired")

	// ErrOperationConsumed is returned by a second Finalize or Authorize.
	ErrOperationConsumed = errors.New("keystore: operation already finalized")

	// ErrOperationReleased is returned after Release.
	ErrOperationReleased = errors.New("keystore: operation released")

	// ErrIntegrity is returned when GCM authentication fails: tampered
	// ciphertext, wrong IV or wrong key.
	ErrIntegrity = errors.New("keystore: integrity check failed")

	// ErrPurposeNotAllowed is returned when a key is used outside its purposes.
	ErrPurposeNotAllowed = errors.New("keystore: purpose not allowed for key")

	// ErrPassphraseRequired is returned when a wrapped key is loaded without a passphrase.
	ErrPassphraseRequired = errors.New("keystore: passphrase required")

	// ErrInvalidPassphrase is returned when a wrapped key cannot be unwrapped.
	ErrInvalidPassphrase = errors.New("keystore: invalid passphrase")

	// ErrCorruptKey is returned when a stored key record cannot be decoded.
	ErrCorruptKey = errors.New("keystore: corrupt key record")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("keystore: closed")
)
