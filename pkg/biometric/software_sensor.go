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
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
)

const sensorStateKey = "biometric/sensor.json"

// Authenticator data flags
const (
	flagUserPresent  = 0x01
	flagUserVerified = 0x04
	flagAttestedData = 0x40
)

var (
	// ErrNoCredential is returned when the sensor is sampled before enrollment.
	ErrNoCredential = errors.New("biometric: sensor holds no credential")

	// ErrEnrollmentRejected is returned when the enrollment sample did not match.
	ErrEnrollmentRejected = errors.New("biometric: enrollment sample rejected")
)

// enrollPrompt is shown by the sample source while enrolling.
var enrollPrompt = PromptInfo{
	Title:              "Biometric Enrollment",
	Subtitle:           "Register your biometric credential.",
	Description:        "Input your Fingerprint or FaceID to enroll.",
	NegativeButtonText: "Cancel",
}

// sensorState is the persisted credential of a SoftwareSensor.
type sensorState struct {
	AAGUID       []byte `json:"aaguid"`
	CredentialID []byte `json:"credential_id"`
	PrivateKey   []byte `json:"private_key"`
	SignCount    uint32 `json:"sign_count"`

	key *ecdsa.PrivateKey
}

// SoftwareSensorConfig configures a SoftwareSensor.
type SoftwareSensorConfig struct {
	// Storage holds the sensor credential (required)
	Storage storage.Backend
	// Source decides each sample (required)
	Source SampleSource
	// Class is the reported sensor tier (default: strong)
	Class types.Strength
}

// SoftwareSensor emulates a platform authenticator with a built-in biometric
// sensor. It holds one ECDSA P-256 credential, persisted in storage, and
// signs every sample with it. Whether a sample matched is decided by the
// SampleSource and reported through the UV flag.
//
// Thread-safe: Yes.
type SoftwareSensor struct {
	storage storage.Backend
	source  SampleSource
	aaguid  []byte

	mu     sync.Mutex
	status SensorStatus
	state  *sensorState
}

// NewSoftwareSensor creates a present, available sensor.
func NewSoftwareSensor(config *SoftwareSensorConfig) (*SoftwareSensor, error) {
	if config == nil || config.Storage == nil {
		return nil, fmt.Errorf("biometric: software sensor requires storage")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("biometric: software sensor requires a sample source")
	}
	class := config.Class
	if class == "" {
		class = types.StrengthStrong
	}
	if !class.IsValid() {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownStrength, class)
	}

	aaguid := sha256.Sum256([]byte("go-pinvault software sensor"))

	return &SoftwareSensor{
		storage: config.Storage,
		source:  config.Source,
		aaguid:  aaguid[:16],
		status: SensorStatus{
			Present:   true,
			Available: true,
			Class:     class,
		},
	}, nil
}

// SetStatus overrides the reported hardware status.
func (s *SoftwareSensor) SetStatus(status SensorStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Status implements Sensor.
func (s *SoftwareSensor) Status(ctx context.Context) (SensorStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

// Enroll implements Sensor. It asks the source for a matching sample, then
// creates a fresh credential replacing any previous one.
func (s *SoftwareSensor) Enroll(ctx context.Context, req EnrollRequest) (*protocol.ParsedCredentialCreationData, error) {
	if req.Options == nil {
		return nil, fmt.Errorf("biometric: registration options are required")
	}
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}

	outcome, err := s.source(ctx, SampleRequest{Prompt: enrollPrompt, Origin: req.Origin, Attempt: 1})
	if err != nil {
		return nil, err
	}
	switch outcome {
	case SampleCancel:
		return nil, ErrSampleCanceled
	case SampleNoMatch:
		return nil, ErrEnrollmentRejected
	}

	state, err := s.newState()
	if err != nil {
		return nil, err
	}

	rpID := req.Options.Response.RelyingParty.ID
	authData, err := s.authenticatorData(rpID, flagUserPresent|flagUserVerified|flagAttestedData, state, true)
	if err != nil {
		return nil, err
	}

	attestationObject, err := webauthncbor.Marshal(map[string]interface{}{
		"fmt":      "none",
		"attStmt":  map[string]interface{}{},
		"authData": authData,
	})
	if err != nil {
		return nil, fmt.Errorf("biometric: failed to encode attestation: %w", err)
	}

	clientDataJSON := clientData(req.Options.Response.Challenge, req.Origin, "webauthn.create")
	credentialID := base64.RawURLEncoding.EncodeToString(state.CredentialID)

	response := protocol.CredentialCreationResponse{
		PublicKeyCredential: protocol.PublicKeyCredential{
			Credential: protocol.Credential{
				ID:   credentialID,
				Type: "public-key",
			},
			RawID: state.CredentialID,
		},
		AttestationResponse: protocol.AuthenticatorAttestationResponse{
			AuthenticatorResponse: protocol.AuthenticatorResponse{
				ClientDataJSON: clientDataJSON,
			},
			AttestationObject: attestationObject,
			Transports:        []string{"internal"},
		},
	}

	parsed, err := response.Parse()
	if err != nil {
		return nil, fmt.Errorf("biometric: failed to parse attestation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveState(state); err != nil {
		return nil, err
	}
	s.state = state
	return parsed, nil
}

// Sample implements Sensor.
func (s *SoftwareSensor) Sample(ctx context.Context, req SampleRequest) (*protocol.ParsedCredentialAssertionData, error) {
	if req.Options == nil {
		return nil, fmt.Errorf("biometric: assertion options are required")
	}
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}

	outcome, err := s.source(ctx, req)
	if err != nil {
		return nil, err
	}
	if outcome == SampleCancel {
		return nil, ErrSampleCanceled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState()
	if err != nil {
		return nil, err
	}
	state.SignCount++

	var flags byte = flagUserPresent
	if outcome == SampleMatch {
		flags |= flagUserVerified
	}

	authData, err := s.authenticatorData(req.Options.Response.RelyingPartyID, flags, state, false)
	if err != nil {
		return nil, err
	}
	clientDataJSON := clientData(req.Options.Response.Challenge, req.Origin, "webauthn.get")

	clientDataHash := sha256.Sum256(clientDataJSON)
	signed := sha256.Sum256(append(append([]byte(nil), authData...), clientDataHash[:]...))
	signature, err := ecdsa.SignASN1(rand.Reader, state.key, signed[:])
	if err != nil {
		return nil, fmt.Errorf("biometric: failed to sign assertion: %w", err)
	}

	if err := s.saveState(state); err != nil {
		return nil, err
	}

	response := protocol.CredentialAssertionResponse{
		PublicKeyCredential: protocol.PublicKeyCredential{
			Credential: protocol.Credential{
				ID:   base64.RawURLEncoding.EncodeToString(state.CredentialID),
				Type: "public-key",
			},
			RawID: state.CredentialID,
		},
		AssertionResponse: protocol.AuthenticatorAssertionResponse{
			AuthenticatorResponse: protocol.AuthenticatorResponse{
				ClientDataJSON: clientDataJSON,
			},
			AuthenticatorData: authData,
			Signature:         signature,
		},
	}

	parsed, err := response.Parse()
	if err != nil {
		return nil, fmt.Errorf("biometric: failed to parse assertion: %w", err)
	}
	return parsed, nil
}

// Reset forgets the sensor credential.
func (s *SoftwareSensor) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	if err := s.storage.Delete(sensorStateKey); err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("biometric: failed to delete sensor state: %w", err)
	}
	return nil
}

func (s *SoftwareSensor) checkAvailable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Present || !s.status.Available {
		return ErrSensorUnavailable
	}
	return nil
}

func (s *SoftwareSensor) newState() (*sensorState, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("biometric: failed to generate credential key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("biometric: failed to encode credential key: %w", err)
	}
	credID := make([]byte, 32)
	if _, err := rand.Read(credID); err != nil {
		return nil, fmt.Errorf("biometric: failed to generate credential ID: %w", err)
	}
	return &sensorState{
		AAGUID:       s.aaguid,
		CredentialID: credID,
		PrivateKey:   der,
		key:          key,
	}, nil
}

// loadState must be called with s.mu held.
func (s *SoftwareSensor) loadState() (*sensorState, error) {
	if s.state != nil {
		return s.state, nil
	}

	data, err := s.storage.Get(sensorStateKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("biometric: failed to read sensor state: %w", err)
	}

	var state sensorState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("biometric: corrupt sensor state: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(state.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("biometric: corrupt sensor key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("biometric: sensor key is %T, want ECDSA", parsed)
	}
	state.key = key
	s.state = &state
	return s.state, nil
}

// saveState must be called with s.mu held.
func (s *SoftwareSensor) saveState(state *sensorState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("biometric: failed to encode sensor state: %w", err)
	}
	if err := s.storage.Put(sensorStateKey, data, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("biometric: failed to save sensor state: %w", err)
	}
	return nil
}

// authenticatorData builds rpIdHash || flags || signCount [|| attestedCredentialData].
func (s *SoftwareSensor) authenticatorData(rpID string, flags byte, state *sensorState, attested bool) ([]byte, error) {
	var buf bytes.Buffer

	rpIDHash := sha256.Sum256([]byte(rpID))
	buf.Write(rpIDHash[:])
	buf.WriteByte(flags)

	counter := make([]byte, 4)
	binary.BigEndian.PutUint32(counter, state.SignCount)
	buf.Write(counter)

	if attested {
		buf.Write(state.AAGUID)

		credIDLen := make([]byte, 2)
		binary.BigEndian.PutUint16(credIDLen, uint16(len(state.CredentialID)))
		buf.Write(credIDLen)
		buf.Write(state.CredentialID)

		coseKey, err := cosePublicKey(&state.key.PublicKey)
		if err != nil {
			return nil, err
		}
		buf.Write(coseKey)
	}

	return buf.Bytes(), nil
}

// cosePublicKey encodes an ES256 public key as a COSE_Key.
func cosePublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	x := make([]byte, 32)
	y := make([]byte, 32)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	return webauthncbor.Marshal(map[int]interface{}{
		1:  2,                          // kty: EC2
		3:  int(webauthncose.AlgES256), // alg: ES256
		-1: 1,                          // crv: P-256
		-2: x,
		-3: y,
	})
}

func clientData(challenge protocol.URLEncodedBase64, origin, ceremony string) []byte {
	data, _ := json.Marshal(struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}{
		Type:      ceremony,
		Challenge: base64.RawURLEncoding.EncodeToString(challenge),
		Origin:    origin,
	})
	return data
}
