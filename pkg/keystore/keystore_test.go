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

package keystore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeremyhahn/go-pinvault/pkg/grant"
	"github.com/jeremyhahn/go-pinvault/pkg/logging"
	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/storage/file"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ks        *KeyStore
	authority *grant.Authority
	backend   storage.Backend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, storage.NewMemory(), nil)
}

func newFixtureWith(t *testing.T, backend storage.Backend, passphrase []byte) *fixture {
	t.Helper()

	authority, err := grant.NewAuthority(time.Minute)
	require.NoError(t, err)

	ks, err := New(&Config{
		Storage:    backend,
		Verifier:   authority.Verifier(),
		Passphrase: passphrase,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })

	return &fixture{ks: ks, authority: authority, backend: backend}
}

// authorize plays the authenticator's part after a successful challenge.
func (f *fixture) authorize(t *testing.T, op *Operation) {
	t.Helper()
	token, err := f.authority.Issuer().Issue(op.ID(), op.KeyName())
	require.NoError(t, err)
	require.NoError(t, op.Authorize(token))
}

func (f *fixture) encrypt(t *testing.T, key *Key, plaintext []byte) (ciphertext, iv []byte) {
	t.Helper()
	op, err := f.ks.InitForEncryption(key)
	require.NoError(t, err)
	f.authorize(t, op)
	ciphertext, err = op.Finalize(plaintext)
	require.NoError(t, err)
	return ciphertext, op.IV()
}

func (f *fixture) decrypt(t *testing.T, key *Key, ciphertext, iv []byte) ([]byte, error) {
	t.Helper()
	op, err := f.ks.InitForDecryption(key, iv)
	require.NoError(t, err)
	f.authorize(t, op)
	return op.Finalize(ciphertext)
}

func TestNew_Validation(t *testing.T) {
	authority, err := grant.NewAuthority(time.Minute)
	require.NoError(t, err)

	_, err = New(nil)
	assert.Error(t, err)
	_, err = New(&Config{Verifier: authority.Verifier()})
	assert.Error(t, err)
	_, err = New(&Config{Storage: storage.NewMemory()})
	assert.Error(t, err)
}

func TestNew_FileBackendRequiresPassphrase(t *testing.T) {
	backend, err := file.New(t.TempDir())
	require.NoError(t, err)
	authority, err := grant.NewAuthority(time.Minute)
	require.NoError(t, err)

	_, err = New(&Config{Storage: backend, Verifier: authority.Verifier()})
	assert.ErrorIs(t, err, ErrPassphraseRequired)
}

func TestFileBackend_RecordAloneCannotDecrypt(t *testing.T) {
	dir := t.TempDir()
	backend, err := file.New(dir)
	require.NoError(t, err)
	f := newFixtureWith(t, backend, []byte("correct horse"))

	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)
	ciphertext, iv := f.encrypt(t, key, []byte("1234"))

	raw, err := os.ReadFile(filepath.Join(dir, "keys", "pin-key.json"))
	require.NoError(t, err)
	var record keyRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	require.True(t, record.Wrapped)

	// The record on disk never carries the raw key
	assert.False(t, bytes.Contains(record.Material, key.material))
	assert.NotContains(t, string(raw), base64.StdEncoding.EncodeToString(key.material))

	plaintext, err := f.decrypt(t, key, ciphertext, iv)
	require.NoError(t, err)
	assert.Equal(t, []byte("1234"), plaintext)
}

func TestGetOrCreateKey_Attributes(t *testing.T) {
	f := newFixture(t)

	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	attrs := key.Attributes()
	assert.Equal(t, "pin-key", key.Name())
	assert.Equal(t, types.SymmetricAES128GCM, attrs.Algorithm)
	assert.Equal(t, 128, attrs.KeySize)
	assert.Equal(t, "GCM", attrs.BlockMode)
	assert.Equal(t, "NoPadding", attrs.Padding)
	assert.True(t, attrs.UserAuthenticationRequired)
	assert.ElementsMatch(t, []types.KeyPurpose{types.PurposeEncrypt, types.PurposeDecrypt}, attrs.Purposes)
	assert.False(t, attrs.CreatedAt.IsZero())
}

func TestGetOrCreateKey_Idempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)
	second, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestGetOrCreateKey_InvalidName(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"", "  ", "a/b", `a\b`, "..", "nul\x00"} {
		_, err := f.ks.GetOrCreateKey(name)
		assert.ErrorIs(t, err, ErrInvalidKeyName, "name %q", name)
	}
}

func TestGetOrCreateKey_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	backend, err := file.New(dir)
	require.NoError(t, err)

	authority, err := grant.NewAuthority(time.Minute)
	require.NoError(t, err)
	cfg := &Config{
		Storage:    backend,
		Verifier:   authority.Verifier(),
		Passphrase: []byte("correct horse"),
		Logger:     logging.Discard(),
	}

	first, err := New(cfg)
	require.NoError(t, err)
	key, err := first.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	f := &fixture{ks: first, authority: authority, backend: backend}
	ciphertext, iv := f.encrypt(t, key, []byte("1234"))
	require.NoError(t, first.Close())

	second, err := New(cfg)
	require.NoError(t, err)
	defer second.Close()

	reloaded, err := second.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	f.ks = second
	plaintext, err := f.decrypt(t, reloaded, ciphertext, iv)
	require.NoError(t, err)
	assert.Equal(t, []byte("1234"), plaintext)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"pin", []byte("1234")},
		{"empty", []byte{}},
		{"unicode", []byte("pïn-✓")},
		{"long", make([]byte, 4096)},
	}

	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, iv := f.encrypt(t, key, tt.plaintext)
			assert.Len(t, iv, IVSize)
			assert.Len(t, ciphertext, len(tt.plaintext)+TagSize)

			plaintext, err := f.decrypt(t, key, ciphertext, iv)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, plaintext)
		})
	}
}

func TestEncrypt_FreshIVPerOperation(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	c1, iv1 := f.encrypt(t, key, []byte("1234"))
	c2, iv2 := f.encrypt(t, key, []byte("1234"))

	assert.NotEqual(t, iv1, iv2)
	assert.NotEqual(t, c1, c2)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	ciphertext, iv := f.encrypt(t, key, []byte("1234"))

	for i := range ciphertext {
		mutated := append([]byte(nil), ciphertext...)
		mutated[i] ^= 0x01
		_, err := f.decrypt(t, key, mutated, iv)
		assert.ErrorIs(t, err, ErrIntegrity, "byte %d", i)
	}
}

func TestDecrypt_TruncatedCiphertext(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	ciphertext, iv := f.encrypt(t, key, []byte("1234"))

	_, err = f.decrypt(t, key, ciphertext[:TagSize-1], iv)
	assert.ErrorIs(t, err, ErrIntegrity)
	_, err = f.decrypt(t, key, ciphertext[:len(ciphertext)-1], iv)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestDecrypt_WrongIV(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	ciphertext, iv := f.encrypt(t, key, []byte("1234"))
	wrong := append([]byte(nil), iv...)
	wrong[0] ^= 0xff

	_, err = f.decrypt(t, key, ciphertext, wrong)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestDecrypt_DifferentKeyName(t *testing.T) {
	f := newFixture(t)
	keyA, err := f.ks.GetOrCreateKey("key-a")
	require.NoError(t, err)
	keyB, err := f.ks.GetOrCreateKey("key-b")
	require.NoError(t, err)

	ciphertext, iv := f.encrypt(t, keyA, []byte("1234"))

	_, err = f.decrypt(t, keyB, ciphertext, iv)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestInitForDecryption_EmptyIV(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	_, err = f.ks.InitForDecryption(key, nil)
	assert.ErrorIs(t, err, ErrInvalidIV)
	_, err = f.ks.InitForDecryption(key, []byte{})
	assert.ErrorIs(t, err, ErrInvalidIV)
}

func TestDecrypt_WrongIVLength(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)
	ciphertext, iv := f.encrypt(t, key, []byte("1234"))

	for _, size := range []int{1, 11, 13, 16} {
		wrong := make([]byte, size)
		copy(wrong, iv)
		_, err := f.decrypt(t, key, ciphertext, wrong)
		assert.ErrorIs(t, err, ErrIntegrity, "size %d", size)
	}
}

func TestInit_NilKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.ks.InitForEncryption(nil)
	assert.Error(t, err)
	_, err = f.ks.InitForDecryption(nil, make([]byte, IVSize))
	assert.Error(t, err)
}

func TestFinalize_RequiresAuthorization(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	op, err := f.ks.InitForEncryption(key)
	require.NoError(t, err)

	_, err = op.Finalize([]byte("1234"))
	assert.ErrorIs(t, err, ErrUserNotAuthenticated)

	// An unauthenticated attempt does not burn the operation
	f.authorize(t, op)
	_, err = op.Finalize([]byte("1234"))
	assert.NoError(t, err)
}

func TestFinalize_AtMostOnce(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	op, err := f.ks.InitForEncryption(key)
	require.NoError(t, err)
	f.authorize(t, op)

	_, err = op.Finalize([]byte("1234"))
	require.NoError(t, err)

	_, err = op.Finalize([]byte("1234"))
	assert.ErrorIs(t, err, ErrOperationConsumed)

	token, err := f.authority.Issuer().Issue(op.ID(), op.KeyName())
	require.NoError(t, err)
	assert.ErrorIs(t, op.Authorize(token), ErrOperationConsumed)
}

func TestFinalize_ConcurrentCallersOneWins(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	op, err := f.ks.InitForEncryption(key)
	require.NoError(t, err)
	f.authorize(t, op)

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := op.Finalize([]byte("1234")); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestFinalize_FailedDecryptConsumes(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	_, iv := f.encrypt(t, key, []byte("1234"))

	op, err := f.ks.InitForDecryption(key, iv)
	require.NoError(t, err)
	f.authorize(t, op)

	_, err = op.Finalize([]byte("garbage-garbage-garbage"))
	assert.ErrorIs(t, err, ErrIntegrity)
	_, err = op.Finalize([]byte("garbage-garbage-garbage"))
	assert.ErrorIs(t, err, ErrOperationConsumed)
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	op, err := f.ks.InitForEncryption(key)
	require.NoError(t, err)
	f.authorize(t, op)
	assert.True(t, op.authorized())

	op.Release()
	assert.False(t, op.authorized())

	_, err = op.Finalize([]byte("1234"))
	assert.ErrorIs(t, err, ErrOperationReleased)

	token, err := f.authority.Issuer().Issue(op.ID(), op.KeyName())
	require.NoError(t, err)
	assert.ErrorIs(t, op.Authorize(token), ErrOperationReleased)

	// Releasing twice is harmless
	op.Release()
}

func TestAuthorize_GrantForAnotherOperation(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	op1, err := f.ks.InitForEncryption(key)
	require.NoError(t, err)
	op2, err := f.ks.InitForEncryption(key)
	require.NoError(t, err)

	token, err := f.authority.Issuer().Issue(op1.ID(), key.Name())
	require.NoError(t, err)

	assert.ErrorIs(t, op2.Authorize(token), ErrUserNotAuthenticated)
	assert.False(t, op2.authorized())
}

func TestAuthorize_ForeignIssuer(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	op, err := f.ks.InitForEncryption(key)
	require.NoError(t, err)

	rogue, err := grant.NewAuthority(time.Minute)
	require.NoError(t, err)
	token, err := rogue.Issuer().Issue(op.ID(), key.Name())
	require.NoError(t, err)

	assert.ErrorIs(t, op.Authorize(token), ErrUserNotAuthenticated)
}

func TestFinalize_AuthorizationExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	authority, err := grant.NewAuthorityWithConfig(&grant.Config{TTL: 5 * time.Second, Now: clock})
	require.NoError(t, err)
	ks, err := New(&Config{Storage: storage.NewMemory(), Verifier: authority.Verifier(), Logger: logging.Discard()})
	require.NoError(t, err)
	defer ks.Close()

	key, err := ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)
	op, err := ks.InitForEncryption(key)
	require.NoError(t, err)

	token, err := authority.Issuer().Issue(op.ID(), key.Name())
	require.NoError(t, err)
	require.NoError(t, op.Authorize(token))

	now = now.Add(time.Minute)

	_, err = op.Finalize([]byte("1234"))
	assert.ErrorIs(t, err, ErrAuthorizationExpired)
	assert.ErrorIs(t, op.Authorize(token), ErrAuthorizationExpired)
}

func TestPassphraseWrapping(t *testing.T) {
	backend := storage.NewMemory()
	f := newFixtureWith(t, backend, []byte("correct horse"))

	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)
	ciphertext, iv := f.encrypt(t, key, []byte("1234"))

	raw, err := backend.Get(storageKey("pin-key"))
	require.NoError(t, err)
	var record keyRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.True(t, record.Wrapped)
	assert.Len(t, record.Material, saltSize+IVSize+16+TagSize)

	t.Run("same passphrase", func(t *testing.T) {
		g := newFixtureWith(t, backend, []byte("correct horse"))
		reloaded, err := g.ks.GetOrCreateKey("pin-key")
		require.NoError(t, err)
		plaintext, err := g.decrypt(t, reloaded, ciphertext, iv)
		require.NoError(t, err)
		assert.Equal(t, []byte("1234"), plaintext)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		g := newFixtureWith(t, backend, []byte("battery staple"))
		_, err := g.ks.GetOrCreateKey("pin-key")
		assert.ErrorIs(t, err, ErrInvalidPassphrase)
	})

	t.Run("missing passphrase", func(t *testing.T) {
		g := newFixtureWith(t, backend, nil)
		_, err := g.ks.GetOrCreateKey("pin-key")
		assert.ErrorIs(t, err, ErrPassphraseRequired)
	})
}

func TestLoad_CorruptRecord(t *testing.T) {
	backend := storage.NewMemory()
	require.NoError(t, backend.Put(storageKey("pin-key"), []byte("{not json"), nil))

	f := newFixtureWith(t, backend, nil)
	_, err := f.ks.GetOrCreateKey("pin-key")
	assert.ErrorIs(t, err, ErrCorruptKey)
}

func TestHasKeyAndDeleteKey(t *testing.T) {
	f := newFixture(t)

	exists, err := f.ks.HasKey("pin-key")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)

	exists, err = f.ks.HasKey("pin-key")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, f.ks.DeleteKey("pin-key"))

	exists, err = f.ks.HasKey("pin-key")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, f.ks.DeleteKey("pin-key"), ErrKeyNotFound)
}

func TestDeleteKey_OldCiphertextUnreadable(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)
	ciphertext, iv := f.encrypt(t, key, []byte("1234"))

	require.NoError(t, f.ks.DeleteKey("pin-key"))

	fresh, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)
	_, err = f.decrypt(t, fresh, ciphertext, iv)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	key, err := f.ks.GetOrCreateKey("pin-key")
	require.NoError(t, err)
	op, err := f.ks.InitForEncryption(key)
	require.NoError(t, err)
	f.authorize(t, op)

	require.NoError(t, f.ks.Close())

	_, err = f.ks.GetOrCreateKey("pin-key")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = op.Finalize([]byte("1234"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "encrypt", ModeEncrypt.String())
	assert.Equal(t, "decrypt", ModeDecrypt.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
}
