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

// Package keyring stores values in the operating system's credential store
// (Secret Service on Linux, Keychain on macOS, Credential Manager on Windows)
// through github.com/zalando/go-keyring.
//
// The OS keyring only holds strings, so values are base64 encoded.
package keyring

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/jeremyhahn/go-pinvault/pkg/storage"
)

// DefaultService is the keyring service name used when none is configured.
const DefaultService = "go-pinvault"

// Backend implements storage.Backend on top of the OS keyring.
type Backend struct {
	service string
	mu      sync.RWMutex
	closed  bool
}

// New returns a keyring backend scoped to service.
func New(service string) *Backend {
	if service == "" {
		service = DefaultService
	}
	return &Backend{service: service}
}

// Service returns the keyring service name entries are stored under.
func (b *Backend) Service() string {
	return b.service
}

// Get retrieves the value for the given key.
func (b *Backend) Get(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrClosed
	}
	if key == "" {
		return nil, storage.ErrInvalidKey
	}

	encoded, err := gokeyring.Get(b.service, key)
	if err != nil {
		if errors.Is(err, gokeyring.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("keyring storage: failed to read key %q: %w", key, err)
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keyring storage: key %q holds non-base64 data: %w", key, err)
	}
	return value, nil
}

// Put stores the value for the given key. The keyring persists it immediately.
func (b *Backend) Put(key string, value []byte, _ *storage.Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	if key == "" {
		return storage.ErrInvalidKey
	}

	if err := gokeyring.Set(b.service, key, base64.StdEncoding.EncodeToString(value)); err != nil {
		return fmt.Errorf("keyring storage: failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes the key from the keyring.
func (b *Backend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}

	if err := gokeyring.Delete(b.service, key); err != nil {
		if errors.Is(err, gokeyring.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("keyring storage: failed to delete key %q: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in the keyring.
func (b *Backend) Exists(key string) (bool, error) {
	_, err := b.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Close marks the backend closed. Keyring entries are left in place.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
