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

package secretstore

import (
	"testing"

	"github.com/jeremyhahn/go-pinvault/pkg/logging"
	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/storage/file"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, storage.Backend) {
	t.Helper()
	backend := storage.NewMemory()
	store, err := New(backend, logging.Discard())
	require.NoError(t, err)
	return store, backend
}

func sampleMessage() *types.EncryptedMessage {
	return types.NewEncryptedMessage(
		[]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		[]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	)
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestGet_NeverPut(t *testing.T) {
	store, _ := newStore(t)

	msg, found, err := store.Get("pin_key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, msg)
}

func TestPutGet(t *testing.T) {
	store, _ := newStore(t)
	msg := sampleMessage()

	require.NoError(t, store.Put("pin_key", msg))

	got, found, err := store.Get("pin_key")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, msg.Equal(got))
	assert.Equal(t, msg.SavedAt, got.SavedAt)
}

func TestPut_Overwrites(t *testing.T) {
	store, _ := newStore(t)

	first := sampleMessage()
	second := types.NewEncryptedMessage([]byte("another-ciphertext-x"), []byte("another-iv!!"))

	require.NoError(t, store.Put("pin_key", first))
	require.NoError(t, store.Put("pin_key", second))

	got, found, err := store.Get("pin_key")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, second.Equal(got))
	assert.False(t, first.Equal(got))
}

func TestPut_Validation(t *testing.T) {
	store, _ := newStore(t)

	assert.ErrorIs(t, store.Put("pin_key", nil), ErrNilMessage)
	assert.ErrorIs(t, store.Put("pin_key", &types.EncryptedMessage{InitializationVector: []byte{1}}), ErrNilMessage)
	assert.ErrorIs(t, store.Put("pin_key", &types.EncryptedMessage{CipherText: []byte{1}}), ErrNilMessage)
	assert.ErrorIs(t, store.Put("", sampleMessage()), ErrInvalidRecordKey)
	assert.ErrorIs(t, store.Put("a/b", sampleMessage()), ErrInvalidRecordKey)
}

func TestRecordFormat(t *testing.T) {
	store, backend := newStore(t)
	msg := &types.EncryptedMessage{
		CipherText:           []byte("cipher"),
		InitializationVector: []byte("iv-iv-iv-iv!"),
		SavedAt:              1700000000000,
	}
	require.NoError(t, store.Put("pin_key", msg))

	raw, err := backend.Get("secrets/pin_key")
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"cipherText":"Y2lwaGVy","initializationVector":"aXYtaXYtaXYtaXYh","savedAt":1700000000000}`,
		string(raw))
}

func TestGet_CorruptRecord(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", "\x00\x01garbage"},
		{"truncated", `{"cipherText":"Y2lw`},
		{"missing iv", `{"cipherText":"Y2lwaGVy","savedAt":1}`},
		{"bad base64", `{"cipherText":"***","initializationVector":"aXY="}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, backend := newStore(t)
			require.NoError(t, backend.Put("secrets/pin_key", []byte(tt.data), nil))

			msg, found, err := store.Get("pin_key")
			assert.ErrorIs(t, err, ErrCorruptRecord)
			assert.False(t, found)
			assert.Nil(t, msg)
		})
	}
}

func TestExistsAndDelete(t *testing.T) {
	store, _ := newStore(t)

	exists, err := store.Exists("pin_key")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put("pin_key", sampleMessage()))
	exists, err = store.Exists("pin_key")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete("pin_key"))
	_, found, err := store.Get("pin_key")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting again is a no-op
	assert.NoError(t, store.Delete("pin_key"))
}

func TestDurableAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	backend, err := file.New(dir)
	require.NoError(t, err)
	store, err := New(backend, logging.Discard())
	require.NoError(t, err)

	msg := sampleMessage()
	require.NoError(t, store.Put("pin_key", msg))
	require.NoError(t, backend.Close())

	reopened, err := file.New(dir)
	require.NoError(t, err)
	store, err = New(reopened, logging.Discard())
	require.NoError(t, err)

	got, found, err := store.Get("pin_key")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, msg.Equal(got))
}

func TestBackendClosed(t *testing.T) {
	store, backend := newStore(t)
	require.NoError(t, backend.Close())

	_, _, err := store.Get("pin_key")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, store.Put("pin_key", sampleMessage()), storage.ErrClosed)
}
