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

package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedMessage is returned when a serialized EncryptedMessage cannot be decoded.
var ErrMalformedMessage = errors.New("malformed encrypted message")

// EncryptedMessage is the output of one authenticated encryption: the
// ciphertext (GCM tag appended) and the IV needed to decrypt it.
//
// SavedAt is informational only; it takes no part in equality.
type EncryptedMessage struct {
	CipherText           []byte `json:"cipherText"`
	InitializationVector []byte `json:"initializationVector"`
	SavedAt              int64  `json:"savedAt"`
}

// NewEncryptedMessage stamps a message with the current time in epoch milliseconds.
func NewEncryptedMessage(cipherText, iv []byte) *EncryptedMessage {
	return &EncryptedMessage{
		CipherText:           cipherText,
		InitializationVector: iv,
		SavedAt:              time.Now().UnixMilli(),
	}
}

// Equal compares the byte contents of CipherText and InitializationVector.
func (m *EncryptedMessage) Equal(other *EncryptedMessage) bool {
	if m == nil || other == nil {
		return m == other
	}
	return bytes.Equal(m.CipherText, other.CipherText) &&
		bytes.Equal(m.InitializationVector, other.InitializationVector)
}

// SavedTime returns SavedAt as a time.Time.
func (m *EncryptedMessage) SavedTime() time.Time {
	return time.UnixMilli(m.SavedAt)
}

// Marshal encodes the message as JSON. Byte fields are base64 encoded.
func (m *EncryptedMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalEncryptedMessage decodes a message produced by Marshal.
// Both byte fields must be present and non-empty.
func UnmarshalEncryptedMessage(data []byte) (*EncryptedMessage, error) {
	var m EncryptedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(m.CipherText) == 0 {
		return nil, fmt.Errorf("%w: missing cipherText", ErrMalformedMessage)
	}
	if len(m.InitializationVector) == 0 {
		return nil, fmt.Errorf("%w: missing initializationVector", ErrMalformedMessage)
	}
	return &m, nil
}
