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
	"errors"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
)

var (
	// ErrSampleCanceled is returned by a Sensor when the user pressed the
	// prompt's negative button.
	ErrSampleCanceled = errors.New("biometric: sample canceled")

	// ErrUserCanceled is returned by a Sensor when the user dismissed the
	// prompt by other means.
	ErrUserCanceled = errors.New("biometric: user canceled")

	// ErrSensorUnavailable is returned by a Sensor that is busy or offline.
	ErrSensorUnavailable = errors.New("biometric: sensor unavailable")
)

// SensorStatus describes the hardware state of a Sensor.
type SensorStatus struct {
	// Present is false when no sensor exists at all
	Present bool
	// Available is false when the sensor exists but cannot be used right now
	Available bool
	// Class is the assurance tier of the sensor
	Class types.Strength
	// UpdateRequired is true when the sensor is disabled pending a security update
	UpdateRequired bool
}

// EnrollRequest is a WebAuthn registration the sensor must answer after
// verifying the user.
type EnrollRequest struct {
	Origin  string
	Options *protocol.CredentialCreation
}

// SampleRequest asks the sensor for one biometric sample. The sensor answers
// the assertion challenge; the UV flag of its response states whether the
// sample matched the enrolled user.
type SampleRequest struct {
	Prompt  PromptInfo
	Origin  string
	Options *protocol.CredentialAssertion
	// Attempt is 1 for the first sample of a prompt
	Attempt int
}

// Sensor abstracts biometric hardware acting as a WebAuthn platform
// authenticator.
type Sensor interface {
	// Status reports the hardware state without side effects.
	Status(ctx context.Context) (SensorStatus, error)

	// Enroll creates a credential for the device user.
	Enroll(ctx context.Context, req EnrollRequest) (*protocol.ParsedCredentialCreationData, error)

	// Sample waits for one biometric sample and returns the signed assertion.
	// It returns ErrSampleCanceled or ErrUserCanceled when the user backs
	// out, and ctx.Err() when ctx ends first.
	Sample(ctx context.Context, req SampleRequest) (*protocol.ParsedCredentialAssertionData, error)
}
