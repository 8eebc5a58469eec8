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

// Package secretstore persists EncryptedMessage records under fixed string
// keys in a storage.Backend.
//
// Records are JSON documents:
//
//	{"cipherText": "<base64>", "initializationVector": "<base64>", "savedAt": 1700000000000}
//
// A Put is durable once it returns (given a durable backend) and replaces
// any previous record under the same key.
package secretstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-pinvault/pkg/logging"
	"github.com/jeremyhahn/go-pinvault/pkg/metrics"
	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
	"github.com/jeremyhahn/go-pinvault/pkg/validation"
)

const recordPrefix = "secrets/"

var (
	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("secretstore: corrupt record")

	// ErrInvalidRecordKey is returned for empty record keys.
	ErrInvalidRecordKey = errors.New("secretstore: invalid record key")

	// ErrNilMessage is returned when Put is called with a nil or empty message.
	ErrNilMessage = errors.New("secretstore: message is empty")
)

// Store is a persistent map from record key to EncryptedMessage.
type Store struct {
	backend storage.Backend
	logger  *logging.Logger
}

// New creates a Store over backend.
func New(backend storage.Backend, logger *logging.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("secretstore: storage backend is required")
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Store{
		backend: backend,
		logger:  logger.With("component", metrics.ComponentSecretStore),
	}, nil
}

// Put stores msg under key, replacing any previous record.
func (s *Store) Put(key string, msg *types.EncryptedMessage) error {
	if err := validateRecordKey(key); err != nil {
		return err
	}
	if msg == nil || len(msg.CipherText) == 0 || len(msg.InitializationVector) == 0 {
		return ErrNilMessage
	}

	start := time.Now()
	err := s.put(key, msg)
	metrics.RecordOperation(metrics.OpPut, metrics.ComponentSecretStore, metrics.StatusOf(err), time.Since(start).Seconds())
	if err != nil {
		return err
	}

	s.logger.Debugf("stored record %s", key)
	return nil
}

func (s *Store) put(key string, msg *types.EncryptedMessage) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("secretstore: failed to encode record: %w", err)
	}
	if err := s.backend.Put(recordPrefix+key, data, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("secretstore: failed to write record %q: %w", key, err)
	}
	return nil
}

// Get returns the record under key. A missing record yields (nil, false, nil).
func (s *Store) Get(key string) (*types.EncryptedMessage, bool, error) {
	if err := validateRecordKey(key); err != nil {
		return nil, false, err
	}

	start := time.Now()
	msg, found, err := s.get(key)
	metrics.RecordOperation(metrics.OpGet, metrics.ComponentSecretStore, metrics.StatusOf(err), time.Since(start).Seconds())
	if errors.Is(err, ErrCorruptRecord) {
		metrics.RecordError(metrics.OpGet, metrics.ComponentSecretStore, "corrupt")
		s.logger.Warnf("record %s is corrupt", key)
	}
	return msg, found, err
}

func (s *Store) get(key string) (*types.EncryptedMessage, bool, error) {
	data, err := s.backend.Get(recordPrefix + key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("secretstore: failed to read record %q: %w", key, err)
	}

	msg, err := types.UnmarshalEncryptedMessage(data)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return msg, true, nil
}

// Exists reports whether a record is stored under key.
func (s *Store) Exists(key string) (bool, error) {
	if err := validateRecordKey(key); err != nil {
		return false, err
	}
	return s.backend.Exists(recordPrefix + key)
}

// Delete removes the record under key. Deleting a missing record is not an error.
func (s *Store) Delete(key string) error {
	if err := validateRecordKey(key); err != nil {
		return err
	}

	start := time.Now()
	err := s.backend.Delete(recordPrefix + key)
	if storage.IsNotFound(err) {
		err = nil
	}
	metrics.RecordOperation(metrics.OpDelete, metrics.ComponentSecretStore, metrics.StatusOf(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("secretstore: failed to delete record %q: %w", key, err)
	}
	return nil
}

func validateRecordKey(key string) error {
	if err := validation.ValidateName(key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecordKey, err)
	}
	return nil
}
