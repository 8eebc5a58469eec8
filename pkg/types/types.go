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

// Package types provides the shared data model for go-pinvault: the
// persisted EncryptedMessage, biometric capability values and the attributes
// of authentication-bound keys.
//
// This package has no dependencies on other go-pinvault packages to prevent
// import cycles.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownCapability is returned when a capability string is not recognized.
	ErrUnknownCapability = errors.New("unknown biometric capability")

	// ErrUnknownStrength is returned when a strength string is not recognized.
	ErrUnknownStrength = errors.New("unknown authenticator strength")

	// ErrInvalidKeyAttributes is returned when key attributes are incomplete or inconsistent.
	ErrInvalidKeyAttributes = errors.New("invalid key attributes")
)

// =============================================================================
// Biometric Capability
// =============================================================================

// Capability is the answer to "can this device authenticate the user
// biometrically right now".
type Capability int

const (
	// CapabilityUnknown means the state could not be determined.
	CapabilityUnknown Capability = iota

	// CapabilityReady means a strong biometric prompt can be shown.
	CapabilityReady

	// CapabilityNoHardware means no suitable sensor exists.
	CapabilityNoHardware

	// CapabilityHardwareUnavailable means the sensor exists but is busy or offline.
	CapabilityHardwareUnavailable

	// CapabilityNoneEnrolled means the sensor works but holds no enrollment.
	CapabilityNoneEnrolled

	// CapabilitySecurityUpdateRequired means the sensor is disabled pending an update.
	CapabilitySecurityUpdateRequired

	// CapabilityUnsupported means the requested configuration cannot be honored.
	CapabilityUnsupported
)

var capabilityNames = map[Capability]string{
	CapabilityUnknown:                "unknown",
	CapabilityReady:                  "ready",
	CapabilityNoHardware:             "no_hardware",
	CapabilityHardwareUnavailable:    "hardware_unavailable",
	CapabilityNoneEnrolled:           "none_enrolled",
	CapabilitySecurityUpdateRequired: "security_update_required",
	CapabilityUnsupported:            "unsupported",
}

// String returns the snake_case name of the capability.
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// IsReady reports whether biometric-gated actions may be offered.
func (c Capability) IsReady() bool {
	return c == CapabilityReady
}

// MarshalText implements encoding.TextMarshaler.
func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Capability) UnmarshalText(text []byte) error {
	parsed, err := ParseCapability(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCapability parses a capability name.
func ParseCapability(s string) (Capability, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range capabilityNames {
		if name == s {
			return c, nil
		}
	}
	return CapabilityUnknown, fmt.Errorf("%w: %s", ErrUnknownCapability, s)
}

// =============================================================================
// Authenticator Strength
// =============================================================================

// Strength is the assurance tier of a biometric sensor.
type Strength string

const (
	// StrengthStrong sensors may gate cryptographic key use.
	StrengthStrong Strength = "strong"

	// StrengthWeak sensors may only be used for convenience unlocks.
	StrengthWeak Strength = "weak"
)

// String returns the string representation of the Strength.
func (s Strength) String() string {
	return string(s)
}

// IsValid checks if the Strength is a known tier.
func (s Strength) IsValid() bool {
	return s == StrengthStrong || s == StrengthWeak
}

// Satisfies reports whether a sensor of strength s meets the required tier.
func (s Strength) Satisfies(required Strength) bool {
	if required == StrengthWeak {
		return s.IsValid()
	}
	return s == StrengthStrong
}

// ParseStrength parses a strength name.
func ParseStrength(s string) (Strength, error) {
	st := Strength(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownStrength, s)
	}
	return st, nil
}

// =============================================================================
// Key Attribute Types
// =============================================================================

// SymmetricAlgorithm represents symmetric encryption algorithms.
type SymmetricAlgorithm string

const (
	SymmetricAES128GCM SymmetricAlgorithm = "aes128-gcm"
	SymmetricAES256GCM SymmetricAlgorithm = "aes256-gcm"
)

// String returns the string representation of the SymmetricAlgorithm.
func (sa SymmetricAlgorithm) String() string {
	return string(sa)
}

// KeySize returns the key size in bits, or 0 for unknown algorithms.
func (sa SymmetricAlgorithm) KeySize() int {
	switch sa {
	case SymmetricAES128GCM:
		return 128
	case SymmetricAES256GCM:
		return 256
	default:
		return 0
	}
}

// KeyPurpose is an operation a key may be used for.
type KeyPurpose string

const (
	PurposeEncrypt KeyPurpose = "encrypt"
	PurposeDecrypt KeyPurpose = "decrypt"
)

// KeyAttributes are fixed when a key is generated and never change afterwards.
type KeyAttributes struct {
	// Name is the alias the key is stored under.
	Name string `json:"name"`

	// Algorithm is the cipher the key is bound to.
	Algorithm SymmetricAlgorithm `json:"algorithm"`

	// KeySize is the key size in bits.
	KeySize int `json:"key_size"`

	// BlockMode and Padding document the transformation, e.g. GCM/NoPadding.
	BlockMode string `json:"block_mode"`
	Padding   string `json:"padding"`

	// Purposes lists the operations the key may perform.
	Purposes []KeyPurpose `json:"purposes"`

	// UserAuthenticationRequired means every operation needs a fresh
	// successful biometric challenge.
	UserAuthenticationRequired bool `json:"user_authentication_required"`

	// CreatedAt is when the key was generated.
	CreatedAt time.Time `json:"created_at"`
}

// DefaultKeyAttributes returns the attributes of the PIN protection key:
// AES-128, GCM, no padding, encrypt+decrypt, user authentication required.
func DefaultKeyAttributes(name string) *KeyAttributes {
	return &KeyAttributes{
		Name:                       name,
		Algorithm:                  SymmetricAES128GCM,
		KeySize:                    128,
		BlockMode:                  "GCM",
		Padding:                    "NoPadding",
		Purposes:                   []KeyPurpose{PurposeEncrypt, PurposeDecrypt},
		UserAuthenticationRequired: true,
	}
}

// Validate checks that the attributes describe a usable key.
func (a *KeyAttributes) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil attributes", ErrInvalidKeyAttributes)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidKeyAttributes)
	}
	size := a.Algorithm.KeySize()
	if size == 0 {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidKeyAttributes, a.Algorithm)
	}
	if a.KeySize != size {
		return fmt.Errorf("%w: key size %d does not match %s", ErrInvalidKeyAttributes, a.KeySize, a.Algorithm)
	}
	if len(a.Purposes) == 0 {
		return fmt.Errorf("%w: at least one purpose is required", ErrInvalidKeyAttributes)
	}
	return nil
}

// Allows reports whether the key may be used for purpose.
func (a *KeyAttributes) Allows(purpose KeyPurpose) bool {
	for _, p := range a.Purposes {
		if p == purpose {
			return true
		}
	}
	return false
}

// String returns a compact description, e.g. "pin-key (aes128-gcm, auth required)".
func (a *KeyAttributes) String() string {
	auth := "no auth"
	if a.UserAuthenticationRequired {
		auth = "auth required"
	}
	return fmt.Sprintf("%s (%s, %s)", a.Name, a.Algorithm, auth)
}
