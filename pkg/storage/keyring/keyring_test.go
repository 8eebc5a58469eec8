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

package keyring

import (
	"testing"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend(t *testing.T) {
	gokeyring.MockInit()

	b := New("")
	assert.Equal(t, DefaultService, b.Service())

	_, err := b.Get("pin_key")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := b.Exists("pin_key")
	require.NoError(t, err)
	assert.False(t, exists)

	value := []byte{0x00, 0xFF, '{', '}'}
	require.NoError(t, b.Put("pin_key", value, nil))

	got, err := b.Get("pin_key")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	exists, err = b.Exists("pin_key")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, b.Delete("pin_key"))
	assert.ErrorIs(t, b.Delete("pin_key"), storage.ErrNotFound)
}

func TestBackend_ServicesAreIsolated(t *testing.T) {
	gokeyring.MockInit()

	a := New("svc-a")
	b := New("svc-b")

	require.NoError(t, a.Put("pin_key", []byte("a"), nil))

	_, err := b.Get("pin_key")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBackend_NonBase64Entry(t *testing.T) {
	gokeyring.MockInit()

	require.NoError(t, gokeyring.Set("svc", "pin_key", "%%% not base64"))

	_, err := New("svc").Get("pin_key")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestBackend_Closed(t *testing.T) {
	gokeyring.MockInit()

	b := New("svc")
	require.NoError(t, b.Close())

	_, err := b.Get("k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, b.Put("k", nil, nil), storage.ErrClosed)
	assert.ErrorIs(t, b.Delete("k"), storage.ErrClosed)
}

func TestBackend_EmptyKey(t *testing.T) {
	gokeyring.MockInit()
	assert.ErrorIs(t, New("svc").Put("", []byte("v"), nil), storage.ErrInvalidKey)
}
