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

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-pinvault/internal/config"
	"github.com/jeremyhahn/go-pinvault/pkg/biometric"
	"github.com/jeremyhahn/go-pinvault/pkg/grant"
	"github.com/jeremyhahn/go-pinvault/pkg/keystore"
	"github.com/jeremyhahn/go-pinvault/pkg/logging"
	"github.com/jeremyhahn/go-pinvault/pkg/secretstore"
	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/storage/file"
	"github.com/jeremyhahn/go-pinvault/pkg/storage/keyring"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
	"github.com/jeremyhahn/go-pinvault/pkg/vault"
)

// app is the wired set of components one command works with
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	backend    storage.Backend
	keyBackend storage.Backend
	sensor     *biometric.SoftwareSensor
	auth       *biometric.Authenticator
	keystore   *keystore.KeyStore
	vault      *vault.Vault
}

// newApp opens storage and builds the authenticator, keystore and vault.
// Biometric samples are read from in; prompts are written to out.
func newApp(cfg *config.Config, logger *logging.Logger, in io.Reader, out io.Writer) (*app, error) {
	backend, err := openBackend(&cfg.Storage)
	if err != nil {
		return nil, err
	}
	keyBackend, err := openKeyBackend(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	a, err := buildApp(cfg, logger, backend, keyBackend, in, out)
	if err != nil {
		_ = keyBackend.Close()
		_ = backend.Close()
		return nil, err
	}
	return a, nil
}

// buildApp wires the components. Key records and the sensor credential go to
// keyBackend; enrollment, lockout state and the PIN record go to backend.
func buildApp(cfg *config.Config, logger *logging.Logger, backend, keyBackend storage.Backend, in io.Reader, out io.Writer) (*app, error) {
	authority, err := grant.NewAuthority(cfg.Keystore.GrantTTL.Std())
	if err != nil {
		return nil, fmt.Errorf("failed to create grant authority: %w", err)
	}

	class, err := types.ParseStrength(cfg.Biometric.SensorClass)
	if err != nil {
		return nil, err
	}
	sensor, err := biometric.NewSoftwareSensor(&biometric.SoftwareSensorConfig{
		Storage: keyBackend,
		Source:  biometric.TerminalSource(in, out),
		Class:   class,
	})
	if err != nil {
		return nil, err
	}

	auth, err := biometric.New(&biometric.Config{
		RPID:            cfg.Biometric.RPID,
		RPDisplayName:   cfg.Biometric.RPDisplayName,
		Origin:          cfg.Biometric.Origin,
		Sensor:          sensor,
		Storage:         backend,
		Issuer:          authority.Issuer(),
		MaxAttempts:     cfg.Biometric.MaxAttempts,
		LockoutDuration: cfg.Biometric.LockoutDuration.Std(),
		Timeout:         cfg.Biometric.Timeout.Std(),
		SampleInterval:  cfg.Biometric.SampleInterval.Std(),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	var passphrase []byte
	if cfg.Keystore.Passphrase != "" {
		passphrase = []byte(cfg.Keystore.Passphrase)
	}
	ks, err := keystore.New(&keystore.Config{
		Storage:    keyBackend,
		Verifier:   authority.Verifier(),
		Passphrase: passphrase,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	secrets, err := secretstore.New(backend, logger)
	if err != nil {
		_ = ks.Close()
		return nil, err
	}

	v, err := vault.New(&vault.Config{
		Authenticator: auth,
		KeyStore:      ks,
		Secrets:       secrets,
		KeyName:       cfg.Keystore.KeyName,
		RecordKey:     cfg.Vault.RecordKey,
		Listener: func(e vault.Event) {
			logger.Debug("vault state", "action", string(e.Action), "state", e.State.String())
		},
		Logger: logger,
	})
	if err != nil {
		_ = ks.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		backend:    backend,
		keyBackend: keyBackend,
		sensor:     sensor,
		auth:       auth,
		keystore:   ks,
		vault:      v,
	}, nil
}

// openBackend opens the configured storage backend.
func openBackend(cfg *config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.StorageFile:
		backend, err := file.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case config.StorageMemory:
		return storage.NewMemory(), nil
	case config.StorageKeyring:
		return keyring.New(cfg.KeyringService), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// openKeyBackend opens the backend holding key records and the sensor
// credential. It is never the file backend.
func openKeyBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Keystore.Storage {
	case config.StorageKeyring:
		return keyring.New(cfg.Storage.KeyringService), nil
	case config.StorageMemory:
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported keystore storage: %s", cfg.Keystore.Storage)
	}
}

// Close releases the keystore and both storage backends.
func (a *app) Close() error {
	return errors.Join(a.keystore.Close(), a.keyBackend.Close(), a.backend.Close())
}
