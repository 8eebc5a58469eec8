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
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-pinvault/pkg/biometric"
	"github.com/jeremyhahn/go-pinvault/pkg/keystore"
	"github.com/jeremyhahn/go-pinvault/pkg/logging"
	"github.com/jeremyhahn/go-pinvault/pkg/metrics"
	"github.com/jeremyhahn/go-pinvault/pkg/secretstore"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
)

const (
	DefaultKeyName   = "pinvault-biometric-key"
	DefaultRecordKey = "pin_key"
)

// Authenticator is the part of *biometric.Authenticator the vault uses.
type Authenticator interface {
	CanAuthenticate(ctx context.Context, strength types.Strength) types.Capability
	Authenticate(ctx context.Context, info biometric.PromptInfo, op biometric.CryptoObject, cb biometric.AuthenticationCallback) (*biometric.Prompt, error)
}

// Config contains configuration for a Vault.
type Config struct {
	Authenticator Authenticator
	KeyStore      *keystore.KeyStore
	Secrets       *secretstore.Store

	// KeyName is the keystore key protecting the PIN (default: DefaultKeyName)
	KeyName string
	// RecordKey is the secret store record holding the PIN (default: DefaultRecordKey)
	RecordKey string
	// Prompt is the text shown during challenges (default: biometric.DefaultPromptInfo())
	Prompt *biometric.PromptInfo

	Listener StateListener
	Logger   *logging.Logger
}

// Status is what the caller needs to decide which actions to offer.
type Status struct {
	Capability types.Capability `json:"capability"`
	// BiometricsEnabled is true only when Capability is ready
	BiometricsEnabled bool `json:"biometrics_enabled"`
	PINStored         bool `json:"pin_stored"`
}

// Vault saves and reveals one PIN behind biometric authentication.
//
// Thread-safe: Yes. Operations are serialized.
type Vault struct {
	auth      Authenticator
	keystore  *keystore.KeyStore
	secrets   *secretstore.Store
	keyName   string
	recordKey string
	prompt    biometric.PromptInfo
	listener  StateListener
	logger    *logging.Logger

	opMu  sync.Mutex
	mu    sync.Mutex
	state State
}

// New creates a Vault.
func New(config *Config) (*Vault, error) {
	if config == nil {
		return nil, fmt.Errorf("vault: config is required")
	}
	if config.Authenticator == nil {
		return nil, fmt.Errorf("vault: authenticator is required")
	}
	if config.KeyStore == nil {
		return nil, fmt.Errorf("vault: keystore is required")
	}
	if config.Secrets == nil {
		return nil, fmt.Errorf("vault: secret store is required")
	}

	v := &Vault{
		auth:      config.Authenticator,
		keystore:  config.KeyStore,
		secrets:   config.Secrets,
		keyName:   config.KeyName,
		recordKey: config.RecordKey,
		prompt:    biometric.DefaultPromptInfo(),
		listener:  config.Listener,
		logger:    config.Logger,
	}
	if v.keyName == "" {
		v.keyName = DefaultKeyName
	}
	if v.recordKey == "" {
		v.recordKey = DefaultRecordKey
	}
	if config.Prompt != nil {
		v.prompt = *config.Prompt
	}
	if err := v.prompt.Validate(); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if v.logger == nil {
		v.logger = logging.DefaultLogger()
	}
	v.logger = v.logger.With("component", metrics.ComponentVault)
	return v, nil
}

// KeyName returns the name of the key protecting the PIN.
func (v *Vault) KeyName() string {
	return v.keyName
}

// State returns the state of the current or last operation.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Status reports capability and whether a PIN is saved. It never creates a key.
func (v *Vault) Status(ctx context.Context) (*Status, error) {
	capability := v.auth.CanAuthenticate(ctx, types.StrengthStrong)
	stored, err := v.secrets.Exists(v.recordKey)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to check saved PIN: %w", err)
	}
	return &Status{
		Capability:        capability,
		BiometricsEnabled: capability.IsReady(),
		PINStored:         stored,
	}, nil
}

// Unlock runs a plain biometric challenge with no key involved.
func (v *Vault) Unlock(ctx context.Context) (err error) {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	start := time.Now()
	defer func() { v.record(metrics.OpUnlock, start, err) }()

	v.transition(ActionUnlock, StateIdle, nil)
	if err := v.requireReady(ctx); err != nil {
		return err
	}
	if err := v.challenge(ctx, ActionUnlock, nil); err != nil {
		return err
	}
	v.logger.Info("biometric unlock succeeded")
	return nil
}

// SavePIN encrypts pin under the biometric-bound key and stores it,
// replacing any saved PIN. Surrounding whitespace is trimmed.
func (v *Vault) SavePIN(ctx context.Context, pin string) (err error) {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	start := time.Now()
	defer func() { v.record(metrics.OpSavePIN, start, err) }()

	v.transition(ActionSavePIN, StateIdle, nil)

	pin = strings.TrimSpace(pin)
	if pin == "" {
		return ErrEmptyPIN
	}
	if err := v.requireReady(ctx); err != nil {
		return err
	}

	key, err := v.keystore.GetOrCreateKey(v.keyName)
	if err != nil {
		return fmt.Errorf("vault: failed to get key: %w", err)
	}
	op, err := v.keystore.InitForEncryption(key)
	if err != nil {
		return fmt.Errorf("vault: failed to init encryption: %w", err)
	}

	if err := v.challenge(ctx, ActionSavePIN, op); err != nil {
		return err
	}

	ciphertext, err := op.Finalize([]byte(pin))
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt PIN: %w", err)
	}

	msg := types.NewEncryptedMessage(ciphertext, op.IV())
	if err := v.secrets.Put(v.recordKey, msg); err != nil {
		return fmt.Errorf("vault: failed to store PIN: %w", err)
	}

	v.logger.Info("PIN saved", "key", v.keyName)
	return nil
}

// RevealPIN decrypts the saved PIN after a successful challenge. It returns
// ErrPINNotFound when nothing was saved; a saved empty value is returned as "".
func (v *Vault) RevealPIN(ctx context.Context) (pin string, err error) {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	start := time.Now()
	defer func() { v.record(metrics.OpRevealPIN, start, err) }()

	v.transition(ActionRevealPIN, StateIdle, nil)
	if err := v.requireReady(ctx); err != nil {
		return "", err
	}

	msg, ok, err := v.secrets.Get(v.recordKey)
	if err != nil {
		return "", fmt.Errorf("vault: failed to load PIN: %w", err)
	}
	if !ok {
		return "", ErrPINNotFound
	}

	exists, err := v.keystore.HasKey(v.keyName)
	if err != nil {
		return "", fmt.Errorf("vault: failed to check key: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("vault: saved PIN cannot be decrypted: %w: %s", keystore.ErrKeyNotFound, v.keyName)
	}
	key, err := v.keystore.GetOrCreateKey(v.keyName)
	if err != nil {
		return "", fmt.Errorf("vault: failed to get key: %w", err)
	}
	op, err := v.keystore.InitForDecryption(key, msg.InitializationVector)
	if err != nil {
		return "", fmt.Errorf("vault: failed to init decryption: %w", err)
	}

	if err := v.challenge(ctx, ActionRevealPIN, op); err != nil {
		return "", err
	}

	plaintext, err := op.Finalize(msg.CipherText)
	if err != nil {
		return "", fmt.Errorf("vault: failed to decrypt PIN: %w", err)
	}

	v.logger.Info("PIN revealed", "key", v.keyName)
	return string(plaintext), nil
}

// Reset deletes the saved PIN and its key. Nothing saved is not an error.
func (v *Vault) Reset() error {
	v.opMu.Lock()
	defer v.opMu.Unlock()

	if err := v.secrets.Delete(v.recordKey); err != nil {
		return fmt.Errorf("vault: failed to delete PIN: %w", err)
	}
	if err := v.keystore.DeleteKey(v.keyName); err != nil && !errors.Is(err, keystore.ErrKeyNotFound) {
		return fmt.Errorf("vault: failed to delete key: %w", err)
	}
	v.transition("", StateIdle, nil)
	v.logger.Info("vault reset", "key", v.keyName)
	return nil
}

func (v *Vault) requireReady(ctx context.Context) error {
	capability := v.auth.CanAuthenticate(ctx, types.StrengthStrong)
	if !capability.IsReady() {
		return &UnavailableError{Capability: capability}
	}
	return nil
}

// challenge shows one prompt bound to op and blocks until it ends.
func (v *Vault) challenge(ctx context.Context, action Action, op *keystore.Operation) error {
	var crypto biometric.CryptoObject
	if op != nil {
		crypto = op
	}

	cb := biometric.CallbackFuncs{
		OnFailed: func() {
			v.transition(action, StateFailed, nil)
			v.transition(action, StatePrompting, nil)
		},
	}

	v.transition(action, StatePrompting, nil)
	prompt, err := v.auth.Authenticate(ctx, v.prompt, crypto, cb)
	if err != nil {
		if op != nil {
			op.Release()
		}
		err = fmt.Errorf("vault: failed to start prompt: %w", err)
		v.transition(action, StateError, err)
		return err
	}

	if err := prompt.Wait(); err != nil {
		var be *biometric.Error
		if errors.As(err, &be) {
			err = &ChallengeError{Code: be.Code, Message: be.Message}
		}
		v.transition(action, StateError, err)
		return err
	}

	v.transition(action, StateSucceeded, nil)
	return nil
}

func (v *Vault) transition(action Action, state State, err error) {
	v.mu.Lock()
	v.state = state
	v.mu.Unlock()

	if v.listener != nil {
		v.listener(Event{Action: action, State: state, Err: err})
	}
}

func (v *Vault) record(op string, start time.Time, err error) {
	metrics.RecordOperation(op, metrics.ComponentVault, metrics.StatusOf(err), time.Since(start).Seconds())
	if err == nil {
		return
	}
	if capability, ok := IsUnavailable(err); ok {
		metrics.RecordError(op, metrics.ComponentVault, "unavailable")
		v.logger.Debug("biometric unavailable", "op", op, "capability", capability.String())
		return
	}
	var ce *ChallengeError
	if errors.As(err, &ce) {
		metrics.RecordError(op, metrics.ComponentVault, ce.Code.String())
		return
	}
	metrics.RecordError(op, metrics.ComponentVault, "internal")
	v.logger.Errorf("%s failed: %v", op, err)
}
