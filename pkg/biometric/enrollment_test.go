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

package biometric

import (
	"context"
	"testing"

	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnroll(t *testing.T) {
	f := newFixture(t)

	enrolled, err := f.auth.Enrolled()
	require.NoError(t, err)
	assert.False(t, enrolled)
	_, err = f.auth.Enrollment()
	assert.ErrorIs(t, err, ErrNotEnrolled)

	enrollment := f.enroll(t)
	assert.NotEmpty(t, enrollment.UserID)
	assert.NotEmpty(t, enrollment.CredentialID)
	assert.NotEmpty(t, enrollment.PublicKey)
	assert.Equal(t, "none", enrollment.AttestationType)
	assert.True(t, enrollment.UserPresent)
	assert.True(t, enrollment.UserVerified)
	assert.Equal(t, types.StrengthStrong, enrollment.SensorClass)
	assert.False(t, enrollment.EnrolledAt.IsZero())

	enrolled, err = f.auth.Enrolled()
	require.NoError(t, err)
	assert.True(t, enrolled)

	loaded, err := f.auth.Enrollment()
	require.NoError(t, err)
	assert.Equal(t, enrollment.CredentialID, loaded.CredentialID)
	assert.Equal(t, enrollment.PublicKey, loaded.PublicKey)
}

func TestEnroll_KeepsUserAcrossReenrollment(t *testing.T) {
	f := newFixture(t)

	first := f.enroll(t)
	second := f.enroll(t)

	assert.Equal(t, first.UserID, second.UserID)
	assert.NotEqual(t, first.CredentialID, second.CredentialID)

	// The new credential is the one that verifies
	f.source.Push(SampleMatch)
	p, _ := f.authenticate(t, nil)
	require.NoError(t, p.Wait())
}

func TestEnroll_SampleRejected(t *testing.T) {
	f := newFixture(t)

	f.source.Push(SampleNoMatch)
	_, err := f.auth.Enroll(context.Background())
	assert.ErrorIs(t, err, ErrEnrollmentRejected)

	enrolled, err := f.auth.Enrolled()
	require.NoError(t, err)
	assert.False(t, enrolled)
}

func TestEnroll_Canceled(t *testing.T) {
	f := newFixture(t)

	f.source.Push(SampleCancel)
	_, err := f.auth.Enroll(context.Background())
	requireCode(t, err, ErrorNegativeButton)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.auth.Enroll(ctx)
	requireCode(t, err, ErrorCanceled)
}

func TestEnroll_Hardware(t *testing.T) {
	t.Run("no sensor", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.Sensor = nil })
		_, err := f.auth.Enroll(context.Background())
		requireCode(t, err, ErrorHWNotPresent)
	})

	t.Run("unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.sensor.SetStatus(SensorStatus{Present: true, Available: false, Class: types.StrengthStrong})
		_, err := f.auth.Enroll(context.Background())
		requireCode(t, err, ErrorHWUnavailable)
	})

	t.Run("weak sensor", func(t *testing.T) {
		f := newFixture(t)
		f.sensor.SetStatus(SensorStatus{Present: true, Available: true, Class: types.StrengthWeak})
		f.source.Push(SampleMatch)
		enrollment, err := f.auth.Enroll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.StrengthWeak, enrollment.SensorClass)

		// Enrolled, but too weak to guard keys
		assert.Equal(t, types.CapabilityNoHardware, f.auth.CanAuthenticate(context.Background(), types.StrengthStrong))
	})
}

func TestUnenroll(t *testing.T) {
	f := newFixture(t)

	// Nothing enrolled is not an error
	require.NoError(t, f.auth.Unenroll())

	f.enroll(t)
	require.NoError(t, f.auth.Unenroll())

	enrolled, err := f.auth.Enrolled()
	require.NoError(t, err)
	assert.False(t, enrolled)
	assert.Equal(t, types.CapabilityNoneEnrolled, f.auth.CanAuthenticate(context.Background(), types.StrengthStrong))
}

func TestEnrollment_Corrupt(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.backend.Put(enrollmentKey, []byte("not json"), storage.DefaultOptions()))
	_, err := f.auth.Enrollment()
	assert.ErrorIs(t, err, ErrCorruptEnrollment)

	require.NoError(t, f.backend.Put(enrollmentKey, []byte(`{"user_id":"AQ=="}`), storage.DefaultOptions()))
	_, err = f.auth.Enrollment()
	assert.ErrorIs(t, err, ErrCorruptEnrollment)
}

func TestEnrollment_ToWebAuthn(t *testing.T) {
	e := &Enrollment{
		CredentialID:    []byte{1, 2, 3},
		PublicKey:       []byte{4, 5, 6},
		AttestationType: "none",
		AAGUID:          make([]byte, 16),
		SignCount:       7,
		UserPresent:     true,
		UserVerified:    true,
	}

	wc := e.ToWebAuthn()
	assert.Equal(t, e.CredentialID, wc.ID)
	assert.Equal(t, e.PublicKey, wc.PublicKey)
	assert.Equal(t, uint32(7), wc.Authenticator.SignCount)
	assert.True(t, wc.Flags.UserVerified)

	back := enrollmentFromWebAuthn([]byte{9}, &wc, types.StrengthStrong)
	assert.Equal(t, e.CredentialID, back.CredentialID)
	assert.Equal(t, e.SignCount, back.SignCount)
	assert.Equal(t, []byte{9}, back.UserID)
}
