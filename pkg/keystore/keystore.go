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

// Package keystore implements the key-backed cipher provider: named AES-128-GCM
// keys whose every use requires a fresh successful biometric challenge.
//
// Key material never leaves this package. Callers receive an opaque *Key and
// create one-shot Operations from it. An Operation finalizes only after the
// authenticator has presented a grant bound to that operation's ID, and it
// finalizes at most once.
//
// Key storage format (storage key "keys/<name>.json"):
//
//	{"attributes": {...}, "material": "<base64>", "wrapped": true|false}
//
// When a passphrase is configured, material is [salt(32)][nonce(12)][ct+tag]
// produced by AES-256-GCM under an Argon2id-derived key. Unwrapped material
// is only kept in backends outside the data directory (OS keyring, memory);
// a plain file backend requires a passphrase.
package keystore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-pinvault/pkg/grant"
	"github.com/jeremyhahn/go-pinvault/pkg/logging"
	"github.com/jeremyhahn/go-pinvault/pkg/metrics"
	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/storage/file"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
	"github.com/jeremyhahn/go-pinvault/pkg/validation"
)

const keyPrefix = "keys/"

// Key is a handle to a stored key. It exposes attributes, never material.
type Key struct {
	attrs    types.KeyAttributes
	material []byte
}

// Name returns the key alias.
func (k *Key) Name() string {
	return k.attrs.Name
}

// Attributes returns a copy of the key's creation-time attributes.
func (k *Key) Attributes() types.KeyAttributes {
	attrs := k.attrs
	attrs.Purposes = append([]types.KeyPurpose(nil), k.attrs.Purposes...)
	return attrs
}

// Config contains configuration for the KeyStore.
type Config struct {
	// Storage holds key records (required)
	Storage storage.Backend

	// Verifier checks authorization grants (required)
	Verifier *grant.Verifier

	// Passphrase wraps key material at rest when non-empty. Required when
	// Storage is a file backend.
	Passphrase []byte

	// Logger defaults to logging.DefaultLogger()
	Logger *logging.Logger
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Storage == nil {
		return fmt.Errorf("storage is required")
	}
	if c.Verifier == nil {
		return fmt.Errorf("grant verifier is required")
	}
	if _, ok := c.Storage.(*file.FileStorage); ok && len(c.Passphrase) == 0 {
		return fmt.Errorf("%w: key material cannot be stored unwrapped in a file backend", ErrPassphraseRequired)
	}
	return nil
}

// KeyStore creates, loads and deletes authentication-bound keys.
//
// Thread-safe: Yes.
type KeyStore struct {
	storage    storage.Backend
	verifier   *grant.Verifier
	passphrase []byte
	logger     *logging.Logger
	keys       map[string]*Key
	closed     bool
	mu         sync.Mutex
}

// New creates a KeyStore.
func New(config *Config) (*KeyStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("keystore: invalid config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &KeyStore{
		storage:    config.Storage,
		verifier:   config.Verifier,
		passphrase: append([]byte(nil), config.Passphrase...),
		logger:     logger.With("component", metrics.ComponentKeystore),
		keys:       make(map[string]*Key),
	}, nil
}

// GetOrCreateKey returns the key named name, generating and persisting a
// fresh AES-128-GCM key with user authentication required if none exists.
// Repeated calls with the same name return interchangeable keys.
func (ks *KeyStore) GetOrCreateKey(name string) (*Key, error) {
	if err := validateKeyName(name); err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return nil, ErrClosed
	}

	if key, ok := ks.keys[name]; ok {
		return key, nil
	}

	start := time.Now()
	key, err := ks.load(name)
	if err == nil {
		metrics.RecordOperation(metrics.OpLoad, metrics.ComponentKeystore, metrics.StatusSuccess, time.Since(start).Seconds())
		ks.keys[name] = key
		return key, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		metrics.RecordOperation(metrics.OpLoad, metrics.ComponentKeystore, metrics.StatusError, time.Since(start).Seconds())
		return nil, err
	}

	key, err = ks.generate(name)
	metrics.RecordOperation(metrics.OpGenerate, metrics.ComponentKeystore, metrics.StatusOf(err), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	ks.keys[name] = key
	ks.logger.Debugf("generated key %s", key.attrs.String())
	return key, nil
}

// HasKey reports whether a key named name exists, without creating it.
func (ks *KeyStore) HasKey(name string) (bool, error) {
	if err := validateKeyName(name); err != nil {
		return false, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return false, ErrClosed
	}
	if _, ok := ks.keys[name]; ok {
		return true, nil
	}
	return ks.storage.Exists(storageKey(name))
}

// DeleteKey removes the key named name. Data encrypted under it becomes
// permanently unreadable.
func (ks *KeyStore) DeleteKey(name string) error {
	if err := validateKeyName(name); err != nil {
		return err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return ErrClosed
	}

	start := time.Now()
	delete(ks.keys, name)
	err := ks.storage.Delete(storageKey(name))
	if storage.IsNotFound(err) {
		err = fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	metrics.RecordOperation(metrics.OpDelete, metrics.ComponentKeystore, metrics.StatusOf(err), time.Since(start).Seconds())
	if err != nil {
		return err
	}

	ks.logger.Debugf("deleted key %s", name)
	return nil
}

// Close releases cached key material. The underlying storage is not closed.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	for name, key := range ks.keys {
		zero(key.material)
		delete(ks.keys, name)
	}
	ks.closed = true
	return nil
}

// InitForEncryption creates a pending encryption operation with a fresh
// random 12-byte IV.
func (ks *KeyStore) InitForEncryption(key *Key) (*Operation, error) {
	if key == nil {
		return nil, fmt.Errorf("keystore: key is nil")
	}
	if !key.attrs.Allows(types.PurposeEncrypt) {
		return nil, ErrPurposeNotAllowed
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("keystore: failed to generate IV: %w", err)
	}
	return newOperation(ks, key, ModeEncrypt, iv), nil
}

// InitForDecryption creates a pending decryption operation using the IV the
// ciphertext was produced with. An IV other than the one used for encryption,
// including one of the wrong length, fails at Finalize with ErrIntegrity.
func (ks *KeyStore) InitForDecryption(key *Key, iv []byte) (*Operation, error) {
	if key == nil {
		return nil, fmt.Errorf("keystore: key is nil")
	}
	if !key.attrs.Allows(types.PurposeDecrypt) {
		return nil, ErrPurposeNotAllowed
	}
	if len(iv) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidIV)
	}
	return newOperation(ks, key, ModeDecrypt, append([]byte(nil), iv...)), nil
}

type keyRecord struct {
	Attributes *types.KeyAttributes `json:"attributes"`
	Material   []byte               `json:"material"`
	Wrapped    bool                 `json:"wrapped"`
}

func (ks *KeyStore) generate(name string) (*Key, error) {
	attrs := types.DefaultKeyAttributes(name)
	attrs.CreatedAt = time.Now().UTC()
	if err := attrs.Validate(); err != nil {
		return nil, err
	}

	material := make([]byte, attrs.KeySize/8)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("keystore: failed to generate key: %w", err)
	}

	record := &keyRecord{Attributes: attrs, Material: material}
	if len(ks.passphrase) > 0 {
		wrapped, err := encryptWithPassword(material, ks.passphrase)
		if err != nil {
			return nil, fmt.Errorf("keystore: failed to wrap key: %w", err)
		}
		record.Material = wrapped
		record.Wrapped = true
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to encode key: %w", err)
	}
	if err := ks.storage.Put(storageKey(name), data, storage.DefaultOptions()); err != nil {
		return nil, fmt.Errorf("keystore: failed to save key: %w", err)
	}

	return &Key{attrs: *attrs, material: material}, nil
}

func (ks *KeyStore) load(name string) (*Key, error) {
	data, err := ks.storage.Get(storageKey(name))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("keystore: failed to read key: %w", err)
	}

	var record keyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptKey, err)
	}
	if err := record.Attributes.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptKey, err)
	}

	material := record.Material
	if record.Wrapped {
		if len(ks.passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		material, err = decryptWithPassword(record.Material, ks.passphrase)
		if err != nil {
			return nil, err
		}
	}
	if len(material) != record.Attributes.KeySize/8 {
		return nil, fmt.Errorf("%w: key material is %d bytes", ErrCorruptKey, len(material))
	}

	return &Key{attrs: *record.Attributes, material: material}, nil
}

func storageKey(name string) string {
	return keyPrefix + name + ".json"
}

func validateKeyName(name string) error {
	if err := validation.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyName, err)
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
