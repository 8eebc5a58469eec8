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
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/jeremyhahn/go-pinvault/pkg/metrics"
	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
)

const (
	enrollmentKey = "biometric/enrollment.json"

	deviceUserName        = "device-user"
	deviceUserDisplayName = "Device User"
)

// Enrollment is the persisted record of the enrolled credential.
type Enrollment struct {
	UserID          []byte         `json:"user_id"`
	CredentialID    []byte         `json:"credential_id"`
	PublicKey       []byte         `json:"public_key"`
	AttestationType string         `json:"attestation_type"`
	AAGUID          []byte         `json:"aaguid"`
	SignCount       uint32         `json:"sign_count"`
	CloneWarning    bool           `json:"clone_warning"`
	UserPresent     bool           `json:"user_present"`
	UserVerified    bool           `json:"user_verified"`
	SensorClass     types.Strength `json:"sensor_class"`
	EnrolledAt      time.Time      `json:"enrolled_at"`
	LastUsedAt      time.Time      `json:"last_used_at,omitempty"`
}

// ToWebAuthn converts the enrollment to the go-webauthn credential type.
func (e *Enrollment) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              e.CredentialID,
		PublicKey:       e.PublicKey,
		AttestationType: e.AttestationType,
		Flags: webauthn.CredentialFlags{
			UserPresent:  e.UserPresent,
			UserVerified: e.UserVerified,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       e.AAGUID,
			SignCount:    e.SignCount,
			CloneWarning: e.CloneWarning,
			Attachment:   protocol.Platform,
		},
	}
}

func enrollmentFromWebAuthn(userID []byte, wc *webauthn.Credential, class types.Strength) *Enrollment {
	return &Enrollment{
		UserID:          userID,
		CredentialID:    wc.ID,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		AAGUID:          wc.Authenticator.AAGUID,
		SignCount:       wc.Authenticator.SignCount,
		UserPresent:     wc.Flags.UserPresent,
		UserVerified:    wc.Flags.UserVerified,
		SensorClass:     class,
		EnrolledAt:      time.Now().UTC(),
	}
}

// deviceUser is the single WebAuthn user of this device.
type deviceUser struct {
	id          []byte
	credentials []webauthn.Credential
}

func (u *deviceUser) WebAuthnID() []byte {
	return u.id
}

func (u *deviceUser) WebAuthnName() string {
	return deviceUserName
}

func (u *deviceUser) WebAuthnDisplayName() string {
	return deviceUserDisplayName
}

func (u *deviceUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func newDeviceUser(e *Enrollment) (*deviceUser, error) {
	if e != nil {
		return &deviceUser{id: e.UserID, credentials: []webauthn.Credential{e.ToWebAuthn()}}, nil
	}
	id := make([]byte, 32)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("biometric: failed to generate user ID: %w", err)
	}
	return &deviceUser{id: id}, nil
}

// Enroll registers the sensor's credential with user verification required,
// replacing any previous enrollment.
func (a *Authenticator) Enroll(ctx context.Context) (*Enrollment, error) {
	a.mu.Lock()
	if a.active != nil {
		a.mu.Unlock()
		return nil, ErrPromptActive
	}
	a.enrolling = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.enrolling = false
		a.mu.Unlock()
	}()

	start := time.Now()
	enrollment, err := a.enroll(ctx)
	metrics.RecordOperation(metrics.OpEnroll, metrics.ComponentBiometric, metrics.StatusOf(err), time.Since(start).Seconds())
	if err != nil {
		a.logger.Errorf("enrollment failed: %v", err)
		return nil, err
	}

	a.logger.Info("biometric enrolled", "class", enrollment.SensorClass.String())
	return enrollment, nil
}

func (a *Authenticator) enroll(ctx context.Context) (*Enrollment, error) {
	if a.sensor == nil {
		return nil, NewError(ErrorHWNotPresent)
	}

	status, err := a.sensor.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("biometric: failed to query sensor: %w", err)
	}
	if code, ok := statusError(status, false); ok {
		return nil, NewError(code)
	}

	existing, err := a.loadEnrollment()
	if err != nil && !errors.Is(err, ErrNotEnrolled) {
		return nil, err
	}

	// Re-enrollment keeps the user handle but excludes nothing; the new
	// credential replaces the old one.
	var user *deviceUser
	if existing != nil {
		user = &deviceUser{id: existing.UserID}
	} else if user, err = newDeviceUser(nil); err != nil {
		return nil, err
	}

	options, session, err := a.webauthn.BeginRegistration(user,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementDiscouraged,
			UserVerification:        protocol.VerificationRequired,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
	if err != nil {
		return nil, fmt.Errorf("biometric: begin registration: %w", err)
	}

	response, err := a.sensor.Enroll(ctx, EnrollRequest{Origin: a.origin, Options: options})
	if err != nil {
		if code, ok := a.sampleErrorCode(ctx, err); ok {
			return nil, NewError(code)
		}
		return nil, fmt.Errorf("biometric: sensor enrollment: %w", err)
	}

	credential, err := a.webauthn.CreateCredential(user, *session, response)
	if err != nil {
		return nil, fmt.Errorf("biometric: create credential: %w", err)
	}
	if !credential.Flags.UserVerified {
		return nil, fmt.Errorf("biometric: enrollment did not verify the user")
	}

	enrollment := enrollmentFromWebAuthn(user.id, credential, status.Class)
	if err := a.saveEnrollment(enrollment); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Enrollment returns the current enrollment or ErrNotEnrolled.
func (a *Authenticator) Enrollment() (*Enrollment, error) {
	return a.loadEnrollment()
}

// Enrolled reports whether a credential is enrolled.
func (a *Authenticator) Enrolled() (bool, error) {
	return a.storage.Exists(enrollmentKey)
}

// Unenroll removes the enrollment. Unenrolling when nothing is enrolled is
// not an error.
func (a *Authenticator) Unenroll() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		return ErrPromptActive
	}
	if err := a.storage.Delete(enrollmentKey); err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("biometric: failed to delete enrollment: %w", err)
	}
	if err := a.resetFailures(); err != nil {
		return err
	}
	a.logger.Info("biometric enrollment removed")
	return nil
}

func (a *Authenticator) loadEnrollment() (*Enrollment, error) {
	data, err := a.storage.Get(enrollmentKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("biometric: failed to read enrollment: %w", err)
	}

	var e Enrollment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEnrollment, err)
	}
	if len(e.UserID) == 0 || len(e.CredentialID) == 0 || len(e.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: missing fields", ErrCorruptEnrollment)
	}
	return &e, nil
}

func (a *Authenticator) saveEnrollment(e *Enrollment) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("biometric: failed to encode enrollment: %w", err)
	}
	if err := a.storage.Put(enrollmentKey, data, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("biometric: failed to save enrollment: %w", err)
	}
	return nil
}
