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

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSoftwareSensor_Validation(t *testing.T) {
	_, err := NewSoftwareSensor(nil)
	assert.Error(t, err)
	_, err = NewSoftwareSensor(&SoftwareSensorConfig{Source: AlwaysMatch})
	assert.Error(t, err)
	_, err = NewSoftwareSensor(&SoftwareSensorConfig{Storage: storage.NewMemory()})
	assert.Error(t, err)
	_, err = NewSoftwareSensor(&SoftwareSensorConfig{Storage: storage.NewMemory(), Source: AlwaysMatch, Class: "medium"})
	assert.ErrorIs(t, err, types.ErrUnknownStrength)

	sensor, err := NewSoftwareSensor(&SoftwareSensorConfig{Storage: storage.NewMemory(), Source: AlwaysMatch})
	require.NoError(t, err)
	status, err := sensor.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SensorStatus{Present: true, Available: true, Class: types.StrengthStrong}, status)
}

func TestSoftwareSensor_SampleFlags(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	user, err := newDeviceUser(mustEnrollment(t, f))
	require.NoError(t, err)

	tests := []struct {
		name     string
		outcome  SampleOutcome
		verified bool
	}{
		{"match", SampleMatch, true},
		{"no match", SampleNoMatch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options, _, err := f.auth.webauthn.BeginLogin(user)
			require.NoError(t, err)

			f.source.Push(tt.outcome)
			parsed, err := f.sensor.Sample(context.Background(), SampleRequest{
				Prompt:  DefaultPromptInfo(),
				Origin:  DefaultOrigin,
				Options: options,
				Attempt: 1,
			})
			require.NoError(t, err)
			flags := parsed.Response.AuthenticatorData.Flags
			assert.True(t, flags.UserPresent())
			assert.Equal(t, tt.verified, flags.UserVerified())
		})
	}
}

func TestSoftwareSensor_PersistsCredential(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	// A second sensor over the same storage answers for the same credential
	source := NewScriptedSource(SampleMatch)
	restarted, err := NewSoftwareSensor(&SoftwareSensorConfig{Storage: f.backend, Source: source.Next})
	require.NoError(t, err)
	f.auth.sensor = restarted

	p, _ := f.authenticate(t, nil)
	require.NoError(t, p.Wait())
}

func TestSoftwareSensor_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sensor.Sample(ctx, SampleRequest{})
	assert.Error(t, err)
	_, err = f.sensor.Enroll(ctx, EnrollRequest{})
	assert.Error(t, err)

	// Sampling before any credential exists
	f.source.Push(SampleMatch)
	_, err = f.sensor.Sample(ctx, SampleRequest{Options: &protocol.CredentialAssertion{}})
	assert.ErrorIs(t, err, ErrNoCredential)

	f.source.Push(SampleCancel)
	_, err = f.sensor.Sample(ctx, SampleRequest{Options: &protocol.CredentialAssertion{}})
	assert.ErrorIs(t, err, ErrSampleCanceled)

	f.sensor.SetStatus(SensorStatus{Present: true, Available: false})
	_, err = f.sensor.Sample(ctx, SampleRequest{Options: &protocol.CredentialAssertion{}})
	assert.ErrorIs(t, err, ErrSensorUnavailable)
}

func TestSoftwareSensor_Reset(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	require.NoError(t, f.sensor.Reset())
	exists, err := f.backend.Exists(sensorStateKey)
	require.NoError(t, err)
	assert.False(t, exists)

	// Resetting twice is fine
	require.NoError(t, f.sensor.Reset())

	// The enrolled credential is gone from the sensor, so prompts cannot verify
	f.source.Push(SampleMatch)
	p, _ := f.authenticate(t, nil)
	requireCode(t, p.Wait(), ErrorUnableToProcess)
}

func mustEnrollment(t *testing.T, f *fixture) *Enrollment {
	t.Helper()
	e, err := f.auth.Enrollment()
	require.NoError(t, err)
	return e
}
