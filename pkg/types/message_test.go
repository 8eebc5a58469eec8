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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptedMessage_Equal(t *testing.T) {
	a := &EncryptedMessage{CipherText: []byte{1, 2, 3}, InitializationVector: []byte{9, 9}, SavedAt: 1}
	b := &EncryptedMessage{CipherText: []byte{1, 2, 3}, InitializationVector: []byte{9, 9}, SavedAt: 2}
	c := &EncryptedMessage{CipherText: []byte{1, 2, 4}, InitializationVector: []byte{9, 9}}
	d := &EncryptedMessage{CipherText: []byte{1, 2, 3}, InitializationVector: []byte{9, 8}}

	assert.True(t, a.Equal(b), "savedAt must not affect equality")
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(nil))

	var nilMsg *EncryptedMessage
	assert.True(t, nilMsg.Equal(nil))
}

func TestEncryptedMessage_JSONFormat(t *testing.T) {
	msg := &EncryptedMessage{
		CipherText:           []byte("cipher"),
		InitializationVector: []byte("iv-iv-iv-iv!"),
		SavedAt:              1700000000000,
	}

	data, err := msg.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"cipherText":"Y2lwaGVy","initializationVector":"aXYtaXYtaXYtaXYh","savedAt":1700000000000}`,
		string(data))

	decoded, err := UnmarshalEncryptedMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg.CipherText, decoded.CipherText)
	assert.Equal(t, msg.InitializationVector, decoded.InitializationVector)
	assert.Equal(t, msg.SavedAt, decoded.SavedAt)
}

func TestUnmarshalEncryptedMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "not json"},
		{"bad base64", `{"cipherText":"!!","initializationVector":"AAAA"}`},
		{"missing ciphertext", `{"initializationVector":"AAAA"}`},
		{"missing iv", `{"cipherText":"AAAA"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalEncryptedMessage([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestNewEncryptedMessage(t *testing.T) {
	before := time.Now().UnixMilli()
	msg := NewEncryptedMessage([]byte{1}, []byte{2})
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, msg.SavedAt, before)
	assert.LessOrEqual(t, msg.SavedAt, after)
	assert.Equal(t, msg.SavedAt, msg.SavedTime().UnixMilli())

	_, err := json.Marshal(msg)
	require.NoError(t, err)
}
