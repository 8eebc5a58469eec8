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

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-pinvault/pkg/grant"
	"github.com/jeremyhahn/go-pinvault/pkg/metrics"
)

const (
	// IVSize is the GCM nonce size in bytes.
	IVSize = 12

	// TagSize is the GCM authentication tag size in bytes.
	TagSize = 16
)

// Mode is the direction of an Operation.
type Mode int

const (
	ModeEncrypt Mode = iota + 1
	ModeDecrypt
)

// String returns "encrypt" or "decrypt".
func (m Mode) String() string {
	switch m {
	case ModeEncrypt:
		return metrics.OpEncrypt
	case ModeDecrypt:
		return metrics.OpDecrypt
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type opState int

const (
	statePending opState = iota
	stateAuthorized
	stateConsumed
	stateReleased
)

// Operation is a pending cipher operation bound to one key, one mode and one
// IV. It must be authorized by a grant before Finalize, and Finalize succeeds
// at most once.
//
// Thread-safe: Yes.
type Operation struct {
	id        string
	ks        *KeyStore
	key       *Key
	mode      Mode
	iv        []byte
	state     opState
	expiresAt time.Time
	mu        sync.Mutex
}

func newOperation(ks *KeyStore, key *Key, mode Mode, iv []byte) *Operation {
	return &Operation{
		id:   uuid.NewString(),
		ks:   ks,
		key:  key,
		mode: mode,
		iv:   iv,
	}
}

// ID returns the unique operation ID grants are bound to.
func (op *Operation) ID() string {
	return op.id
}

// KeyName returns the name of the key this operation uses.
func (op *Operation) KeyName() string {
	return op.key.Name()
}

// Mode returns the operation direction.
func (op *Operation) Mode() Mode {
	return op.mode
}

// IV returns a copy of the IV in effect.
func (op *Operation) IV() []byte {
	return append([]byte(nil), op.iv...)
}

// authorized reports whether a valid grant has been presented and not yet used.
func (op *Operation) authorized() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state == stateAuthorized
}

// Authorize verifies a grant issued for this operation. Only the
// authenticator calls this after a successful user-verifying challenge.
func (op *Operation) Authorize(token string) error {
	op.mu.Lock()
	defer op.mu.Unlock()

	switch op.state {
	case stateConsumed:
		return ErrOperationConsumed
	case stateReleased:
		return ErrOperationReleased
	}

	claims, err := op.ks.verifier.Verify(token, op.id, op.key.Name())
	if err != nil {
		metrics.RecordOperation(metrics.OpAuthorize, metrics.ComponentKeystore, metrics.StatusError, 0)
		if errors.Is(err, grant.ErrExpired) {
			return ErrAuthorizationExpired
		}
		return fmt.Errorf("%w: %v", ErrUserNotAuthenticated, err)
	}

	op.state = stateAuthorized
	op.expiresAt = claims.ExpiresAt.Time
	metrics.RecordOperation(metrics.OpAuthorize, metrics.ComponentKeystore, metrics.StatusSuccess, 0)
	return nil
}

// Finalize encrypts or decrypts input in one shot. Encryption returns the
// ciphertext with the 16-byte tag appended; decryption expects the same.
// Any attempt that reaches the cipher consumes the operation.
func (op *Operation) Finalize(input []byte) ([]byte, error) {
	op.mu.Lock()
	defer op.mu.Unlock()

	start := time.Now()
	output, err := op.finalize(input)
	metrics.RecordOperation(op.mode.String(), metrics.ComponentKeystore, metrics.StatusOf(err), time.Since(start).Seconds())
	if err != nil {
		metrics.RecordError(op.mode.String(), metrics.ComponentKeystore, errorType(err))
		return nil, err
	}
	return output, nil
}

func (op *Operation) finalize(input []byte) ([]byte, error) {
	switch op.state {
	case stateConsumed:
		return nil, ErrOperationConsumed
	case stateReleased:
		return nil, ErrOperationReleased
	case statePending:
		if op.key.attrs.UserAuthenticationRequired {
			return nil, ErrUserNotAuthenticated
		}
	case stateAuthorized:
		if op.ks.verifier.Now().After(op.expiresAt) {
			op.state = statePending
			return nil, ErrAuthorizationExpired
		}
	}

	if op.ks.isClosed() {
		return nil, ErrClosed
	}

	op.state = stateConsumed

	block, err := aes.NewCipher(op.key.material)
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to create cipher: %w", err)
	}
	// Any IV length is accepted; a wrong IV fails the tag check
	gcm, err := cipher.NewGCMWithNonceSize(block, len(op.iv))
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to create GCM: %w", err)
	}

	if op.mode == ModeEncrypt {
		return gcm.Seal(nil, op.iv, input, nil), nil
	}

	if len(input) < TagSize {
		return nil, ErrIntegrity
	}
	plaintext, err := gcm.Open(nil, op.iv, input, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Release discards the operation without performing it. Releasing a
// finalized or already released operation has no effect.
func (op *Operation) Release() {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.state == statePending || op.state == stateAuthorized {
		op.state = stateReleased
	}
}

func (ks *KeyStore) isClosed() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.closed
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrOperationConsumed):
		return "consumed"
	case errors.Is(err, ErrOperationReleased):
		return "released"
	case errors.Is(err, ErrUserNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrAuthorizationExpired):
		return "expired"
	default:
		return "internal"
	}
}
