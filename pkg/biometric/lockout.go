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

package biometric

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-pinvault/pkg/storage"
)

const lockoutKey = "biometric/lockout.json"

// lockoutState is persisted next to the enrollment so that rejected samples
// and an active lockout survive process restarts.
type lockoutState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LockedUntil    time.Time `json:"locked_until,omitempty"`
}

// loadLockout must be called with a.mu held. A missing record is a clean state.
func (a *Authenticator) loadLockout() (*lockoutState, error) {
	data, err := a.storage.Get(lockoutKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return &lockoutState{}, nil
		}
		return nil, fmt.Errorf("biometric: failed to read lockout state: %w", err)
	}

	var state lockoutState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: lockout state: %v", ErrCorruptEnrollment, err)
	}
	return &state, nil
}

// saveLockout must be called with a.mu held.
func (a *Authenticator) saveLockout(state *lockoutState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("biometric: failed to encode lockout state: %w", err)
	}
	if err := a.storage.Put(lockoutKey, data, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("biometric: failed to save lockout state: %w", err)
	}
	return nil
}

// lockedOut reports whether prompts must fail with ErrorLockout. Unreadable
// state counts as locked.
func (a *Authenticator) lockedOut() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, err := a.loadLockout()
	if err != nil {
		return true, err
	}
	return a.now().Before(state.LockedUntil), nil
}

func (a *Authenticator) lockoutRemaining() (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, err := a.loadLockout()
	if err != nil {
		return 0, err
	}
	if remaining := state.LockedUntil.Sub(a.now()); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// registerFailure counts a rejected sample and reports whether it triggered
// a lockout.
func (a *Authenticator) registerFailure() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, err := a.loadLockout()
	if err != nil {
		return true, err
	}

	state.FailedAttempts++
	locked := state.FailedAttempts >= a.maxAttempts
	if locked {
		state.FailedAttempts = 0
		state.LockedUntil = a.now().Add(a.lockoutDuration).UTC()
	}
	return locked, a.saveLockout(state)
}

// resetFailures clears the rejected sample count. An active lockout is kept.
// Must be called with a.mu held.
func (a *Authenticator) resetFailures() error {
	state, err := a.loadLockout()
	if err != nil {
		return err
	}
	if state.FailedAttempts == 0 {
		return nil
	}
	state.FailedAttempts = 0
	return a.saveLockout(state)
}
