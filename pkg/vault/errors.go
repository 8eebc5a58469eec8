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

package vault

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-pinvault/pkg/biometric"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
)

var (
	// ErrEmptyPIN is returned when the PIN is empty after trimming.
	ErrEmptyPIN = errors.New("vault: PIN is empty")

	// ErrPINNotFound is returned by RevealPIN when no PIN has been saved.
	ErrPINNotFound = errors.New("vault: no PIN saved")
)

// UnavailableError is returned when biometric authentication is not ready.
type UnavailableError struct {
	Capability types.Capability
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vault: biometric authentication unavailable: %s", e.Capability)
}

// ChallengeError is returned when the biometric prompt ended in an error.
type ChallengeError struct {
	Code    biometric.ErrorCode
	Message string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("vault: biometric challenge failed: %s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match the underlying *biometric.Error by code.
func (e *ChallengeError) Unwrap() error {
	return &biometric.Error{Code: e.Code, Message: e.Message}
}

// IsUnavailable returns the capability carried by an *UnavailableError.
func IsUnavailable(err error) (types.Capability, bool) {
	var e *UnavailableError
	if errors.As(err, &e) {
		return e.Capability, true
	}
	return types.CapabilityUnknown, false
}
