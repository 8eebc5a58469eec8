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

package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_PutAndGet(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	require.NoError(t, backend.Put("pin_key", []byte("value"), nil))

	got, err := backend.Get("pin_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestMemoryBackend_GetMissing(t *testing.T) {
	backend := NewMemory()

	_, err := backend.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestMemoryBackend_PutOverwrites(t *testing.T) {
	backend := NewMemory()

	require.NoError(t, backend.Put("k", []byte("first"), nil))
	require.NoError(t, backend.Put("k", []byte("second"), nil))

	got, err := backend.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestMemoryBackend_PutEmptyKey(t *testing.T) {
	backend := NewMemory()
	assert.ErrorIs(t, backend.Put("", []byte("v"), nil), ErrInvalidKey)
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	backend := NewMemory()

	value := []byte("abc")
	require.NoError(t, backend.Put("k", value, nil))
	value[0] = 'x'

	got, err := backend.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'y'
	again, err := backend.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryBackend_DeleteAndExists(t *testing.T) {
	backend := NewMemory()

	require.NoError(t, backend.Put("k", []byte("v"), nil))

	exists, err := backend.Exists("k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, backend.Delete("k"))
	assert.ErrorIs(t, backend.Delete("k"), ErrNotFound)

	exists, err = backend.Exists("k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryBackend_Closed(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close(), "second close is a no-op")

	_, err := backend.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, backend.Put("k", nil, nil), ErrClosed)
	assert.ErrorIs(t, backend.Delete("k"), ErrClosed)
	_, err = backend.Exists("k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBackend_Concurrent(t *testing.T) {
	backend := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = backend.Put("shared", []byte("v"), nil)
			_, _ = backend.Get("shared")
		}()
	}
	wg.Wait()

	got, err := backend.Get("shared")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
