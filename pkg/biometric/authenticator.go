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
	"fmt"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/jeremyhahn/go-pinvault/pkg/grant"
	"github.com/jeremyhahn/go-pinvault/pkg/logging"
	"github.com/jeremyhahn/go-pinvault/pkg/metrics"
	"github.com/jeremyhahn/go-pinvault/pkg/storage"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
	"golang.org/x/time/rate"
)

const (
	DefaultRPID            = "pinvault.local"
	DefaultRPDisplayName   = "go-pinvault"
	DefaultOrigin          = "https://pinvault.local"
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 30 * time.Second
	DefaultTimeout         = 60 * time.Second
	DefaultSampleInterval  = 250 * time.Millisecond
)

var (
	errPromptCanceled  = errors.New("biometric: prompt canceled")
	errUserNotVerified = errors.New("biometric: sample did not verify the user")
)

// Config contains configuration for the Authenticator.
type Config struct {
	// RPID is the WebAuthn relying party ID (default: DefaultRPID)
	RPID string
	// RPDisplayName is the relying party name (default: DefaultRPDisplayName)
	RPDisplayName string
	// Origin is the client origin (default: DefaultOrigin)
	Origin string

	// Sensor is the biometric hardware; nil means no hardware
	Sensor Sensor
	// Storage holds the enrollment record and lockout state (required)
	Storage storage.Backend
	// Issuer mints grants for bound operations (required)
	Issuer *grant.Issuer

	// MaxAttempts is the number of rejected samples before lockout
	MaxAttempts int
	// LockoutDuration is how long prompts fail after a lockout
	LockoutDuration time.Duration
	// Timeout bounds a whole prompt
	Timeout time.Duration
	// SampleInterval is the minimum spacing between samples
	SampleInterval time.Duration

	Logger *logging.Logger
	// Now overrides the clock, for tests
	Now func() time.Time
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.RPID == "" {
		c.RPID = DefaultRPID
	}
	if c.RPDisplayName == "" {
		c.RPDisplayName = DefaultRPDisplayName
	}
	if c.Origin == "" {
		c.Origin = DefaultOrigin
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = DefaultLockoutDuration
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.Logger == nil {
		c.Logger = logging.DefaultLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	if c.Storage == nil {
		return fmt.Errorf("storage is required")
	}
	if c.Issuer == nil {
		return fmt.Errorf("grant issuer is required")
	}
	return nil
}

// Authenticator runs biometric capability checks, enrollment and prompts.
//
// Thread-safe: Yes. At most one prompt or enrollment is outstanding.
type Authenticator struct {
	webauthn        *webauthn.WebAuthn
	sensor          Sensor
	storage         storage.Backend
	issuer          *grant.Issuer
	origin          string
	maxAttempts     int
	lockoutDuration time.Duration
	timeout         time.Duration
	limiter         *rate.Limiter
	logger          *logging.Logger
	now             func() time.Time

	mu        sync.Mutex
	active    *Prompt
	enrolling bool
}

// New creates an Authenticator.
func New(config *Config) (*Authenticator, error) {
	if config == nil {
		return nil, fmt.Errorf("biometric: config is required")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("biometric: invalid config: %w", err)
	}

	selection := protocol.AuthenticatorSelection{
		AuthenticatorAttachment: protocol.Platform,
		ResidentKey:             protocol.ResidentKeyRequirementDiscouraged,
		UserVerification:        protocol.VerificationRequired,
	}
	timeouts := webauthn.TimeoutConfig{
		Enforce:    true,
		Timeout:    config.Timeout,
		TimeoutUVD: config.Timeout,
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:                   config.RPID,
		RPDisplayName:          config.RPDisplayName,
		RPOrigins:              []string{config.Origin},
		AttestationPreference:  protocol.PreferNoAttestation,
		AuthenticatorSelection: selection,
		Timeouts: webauthn.TimeoutsConfig{
			Login:        timeouts,
			Registration: timeouts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("biometric: failed to create webauthn instance: %w", err)
	}

	return &Authenticator{
		webauthn:        wa,
		sensor:          config.Sensor,
		storage:         config.Storage,
		issuer:          config.Issuer,
		origin:          config.Origin,
		maxAttempts:     config.MaxAttempts,
		lockoutDuration: config.LockoutDuration,
		timeout:         config.Timeout,
		limiter:         rate.NewLimiter(rate.Every(config.SampleInterval), 1),
		logger:          config.Logger.With("component", metrics.ComponentBiometric),
		now:             config.Now,
	}, nil
}

// CanAuthenticate reports whether a prompt of the requested strength can be
// shown right now. It has no side effects and never creates keys.
func (a *Authenticator) CanAuthenticate(ctx context.Context, strength types.Strength) types.Capability {
	capability := a.capability(ctx, strength)
	metrics.SetCapability(capability.String())
	a.logger.Debug("capability checked", "strength", strength.String(), "capability", capability.String())
	return capability
}

func (a *Authenticator) capability(ctx context.Context, strength types.Strength) types.Capability {
	if a.sensor == nil {
		return types.CapabilityNoHardware
	}

	status, err := a.sensor.Status(ctx)
	if err != nil {
		return types.CapabilityUnknown
	}
	switch {
	case !status.Present:
		return types.CapabilityNoHardware
	case !status.Available:
		return types.CapabilityHardwareUnavailable
	case !status.Class.Satisfies(strength):
		return types.CapabilityNoHardware
	case strength != types.StrengthStrong:
		return types.CapabilityUnsupported
	case status.UpdateRequired:
		return types.CapabilitySecurityUpdateRequired
	}

	enrolled, err := a.Enrolled()
	if err != nil {
		return types.CapabilityUnknown
	}
	if !enrolled {
		return types.CapabilityNoneEnrolled
	}
	return types.CapabilityReady
}

// LockoutRemaining returns how long prompts will keep failing with
// ErrorLockout, or zero. The lockout is persisted, so it applies to every
// Authenticator sharing the same storage.
func (a *Authenticator) LockoutRemaining() time.Duration {
	remaining, err := a.lockoutRemaining()
	if err != nil {
		a.logger.Error(err)
	}
	return remaining
}

// Authenticate shows a prompt and returns immediately. Events are delivered
// to cb on the prompt goroutine. When op is non-nil it is authorized for one
// finalize before OnAuthenticationSucceeded, or released before
// OnAuthenticationError.
func (a *Authenticator) Authenticate(ctx context.Context, info PromptInfo, op CryptoObject, cb AuthenticationCallback) (*Prompt, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.active != nil || a.enrolling {
		a.mu.Unlock()
		return nil, ErrPromptActive
	}

	promptCtx, cancel := context.WithCancelCause(ctx)
	p := &Prompt{
		id:     uuid.NewString(),
		info:   info,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.active = p
	a.mu.Unlock()

	a.logger.Debug("prompt started", "prompt", p.id, "bound", op != nil)
	go a.run(promptCtx, p, op, cb)
	return p, nil
}

func (a *Authenticator) run(ctx context.Context, p *Prompt, op CryptoObject, cb AuthenticationCallback) {
	defer close(p.done)
	defer p.cancel(nil)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	promptErr := a.challenge(ctx, p, op, cb)
	duration := time.Since(start).Seconds()

	a.mu.Lock()
	a.active = nil
	a.mu.Unlock()

	if promptErr == nil {
		p.finish(nil)
		metrics.RecordOperation(metrics.OpChallenge, metrics.ComponentBiometric, metrics.StatusSuccess, duration)
		metrics.RecordPrompt("succeeded")
		a.logger.Debug("prompt succeeded", "prompt", p.id)
		cb.OnAuthenticationSucceeded(AuthenticationResult{
			CryptoObject:       op,
			AuthenticationType: AuthenticationTypeBiometric,
		})
		return
	}

	if op != nil {
		op.Release()
	}
	p.finish(promptErr)
	metrics.RecordOperation(metrics.OpChallenge, metrics.ComponentBiometric, metrics.StatusError, duration)
	metrics.RecordPrompt(promptErr.Code.String())
	switch promptErr.Code {
	case ErrorCanceled, ErrorUserCanceled, ErrorNegativeButton:
		a.logger.Debug("prompt dismissed", "prompt", p.id, "code", promptErr.Code.String())
	default:
		a.logger.Errorf("prompt %s ended: %s", p.id, promptErr.Message)
	}
	cb.OnAuthenticationError(promptErr.Code, promptErr.Message)
}

// challenge runs the sample loop. It returns nil once a verified sample has
// been accepted and op, if any, has been authorized.
func (a *Authenticator) challenge(ctx context.Context, p *Prompt, op CryptoObject, cb AuthenticationCallback) *Error {
	locked, err := a.lockedOut()
	if err != nil {
		a.logger.Error(err)
		return NewError(ErrorUnableToProcess)
	}
	if locked {
		return NewError(ErrorLockout)
	}
	if a.sensor == nil {
		return NewError(ErrorHWNotPresent)
	}

	status, err := a.sensor.Status(ctx)
	if err != nil {
		return NewError(ErrorHWUnavailable)
	}
	if code, ok := statusError(status, true); ok {
		return NewError(code)
	}

	enrollment, err := a.loadEnrollment()
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return NewError(ErrorNoBiometrics)
		}
		a.logger.Error(err)
		return NewError(ErrorUnableToProcess)
	}
	user, err := newDeviceUser(enrollment)
	if err != nil {
		return NewError(ErrorUnableToProcess)
	}

	for attempt := 1; ; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// The limiter refuses waits that would overrun the deadline
				return NewError(ErrorTimeout)
			}
			return a.contextError(ctx, p, err)
		}

		options, session, err := a.webauthn.BeginLogin(user,
			webauthn.WithUserVerification(protocol.VerificationRequired),
		)
		if err != nil {
			a.logger.Errorf("begin login: %v", err)
			return NewError(ErrorUnableToProcess)
		}

		response, err := a.sensor.Sample(ctx, SampleRequest{
			Prompt:  p.info,
			Origin:  a.origin,
			Options: options,
			Attempt: attempt,
		})
		if err != nil {
			return a.contextError(ctx, p, err)
		}

		credential, err := a.verify(user, session, response)
		if err != nil {
			a.logger.Warn("biometric sample rejected", "prompt", p.id, "attempt", attempt, "reason", err.Error())
			metrics.RecordRejectedSample()
			p.recordFailure()
			cb.OnAuthenticationFailed()
			locked, err := a.registerFailure()
			if err != nil {
				a.logger.Error(err)
			}
			if locked {
				metrics.RecordLockout()
				a.logger.Warnf("biometric locked out for %s", a.lockoutDuration)
				return NewError(ErrorLockout)
			}
			continue
		}

		a.registerSuccess()
		a.recordUse(enrollment, credential)

		if op != nil {
			token, err := a.issuer.Issue(op.ID(), op.KeyName())
			if err != nil {
				a.logger.Errorf("issue grant: %v", err)
				return NewError(ErrorUnableToProcess)
			}
			if err := op.Authorize(token); err != nil {
				a.logger.Errorf("authorize operation %s: %v", op.ID(), err)
				return NewError(ErrorUnableToProcess)
			}
		}
		return nil
	}
}

// verify accepts only assertions that carry the UV flag and validate against
// the enrolled credential.
func (a *Authenticator) verify(user *deviceUser, session *webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	if response == nil {
		return nil, fmt.Errorf("biometric: empty sample")
	}
	if !response.Response.AuthenticatorData.Flags.UserVerified() {
		return nil, errUserNotVerified
	}
	return a.webauthn.ValidateLogin(user, *session, response)
}

func (a *Authenticator) contextError(ctx context.Context, p *Prompt, err error) *Error {
	if code, ok := a.sampleErrorCode(ctx, err); ok {
		if code == ErrorNegativeButton {
			return &Error{Code: code, Message: p.info.NegativeButtonText}
		}
		return NewError(code)
	}
	a.logger.Errorf("sensor sample: %v", err)
	return NewError(ErrorUnableToProcess)
}

func (a *Authenticator) sampleErrorCode(ctx context.Context, err error) (ErrorCode, bool) {
	switch {
	case errors.Is(context.Cause(ctx), errPromptCanceled):
		return ErrorCanceled, true
	case errors.Is(err, ErrSampleCanceled):
		return ErrorNegativeButton, true
	case errors.Is(err, ErrUserCanceled):
		return ErrorUserCanceled, true
	case errors.Is(err, ErrSensorUnavailable):
		return ErrorHWUnavailable, true
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout, true
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return ErrorCanceled, true
	}
	return 0, false
}

func (a *Authenticator) registerSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.MaybeError(a.resetFailures())
}

func (a *Authenticator) recordUse(enrollment *Enrollment, credential *webauthn.Credential) {
	enrollment.SignCount = credential.Authenticator.SignCount
	enrollment.CloneWarning = credential.Authenticator.CloneWarning
	enrollment.LastUsedAt = a.now().UTC()
	if enrollment.CloneWarning {
		a.logger.Warn("sign counter did not advance; credential may be cloned")
	}
	a.logger.MaybeError(a.saveEnrollment(enrollment))
}

// statusError maps a sensor status to the prompt error it implies.
func statusError(status SensorStatus, requireStrong bool) (ErrorCode, bool) {
	switch {
	case !status.Present:
		return ErrorHWNotPresent, true
	case !status.Available:
		return ErrorHWUnavailable, true
	case requireStrong && status.Class != types.StrengthStrong:
		return ErrorHWNotPresent, true
	case status.UpdateRequired:
		return ErrorSecurityUpdateRequired, true
	}
	return 0, false
}
