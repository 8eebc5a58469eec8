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
	"sync"
)

// PromptInfo is the text shown while waiting for a biometric sample.
type PromptInfo struct {
	Title              string `json:"title"`
	Subtitle           string `json:"subtitle"`
	Description        string `json:"description"`
	NegativeButtonText string `json:"negative_button_text"`
}

// DefaultPromptInfo returns the standard prompt text.
func DefaultPromptInfo() PromptInfo {
	return PromptInfo{
		Title:              "Biometric Authentication",
		Subtitle:           "Enter biometric credentials to proceed.",
		Description:        "Input your Fingerprint or FaceID to ensure it's you!",
		NegativeButtonText: "Cancel",
	}
}

// Validate checks the fields a prompt cannot be shown without.
func (p PromptInfo) Validate() error {
	if p.Title == "" || p.NegativeButtonText == "" {
		return ErrInvalidPromptInfo
	}
	return nil
}

// CryptoObject is a pending cryptographic operation a challenge can be bound
// to. *keystore.Operation implements it.
type CryptoObject interface {
	// ID is the operation ID a grant must name
	ID() string
	// KeyName is the key the operation uses
	KeyName() string
	// Authorize accepts a grant for exactly one finalize
	Authorize(token string) error
	// Release discards the operation unauthorized
	Release()
}

// AuthenticationType reports how the user was verified.
type AuthenticationType int

const (
	AuthenticationTypeUnknown AuthenticationType = iota
	AuthenticationTypeBiometric
)

// AuthenticationResult is delivered on success. CryptoObject is the bound
// operation, authorized for one finalize, or nil for a plain unlock.
type AuthenticationResult struct {
	CryptoObject       CryptoObject
	AuthenticationType AuthenticationType
}

// AuthenticationCallback receives prompt events on the prompt goroutine.
// OnAuthenticationFailed fires zero or more times; exactly one of the other
// two fires once per prompt.
type AuthenticationCallback interface {
	OnAuthenticationError(code ErrorCode, message string)
	OnAuthenticationSucceeded(result AuthenticationResult)
	OnAuthenticationFailed()
}

// CallbackFuncs adapts plain functions to AuthenticationCallback. Nil
// functions are skipped.
type CallbackFuncs struct {
	OnError     func(code ErrorCode, message string)
	OnSucceeded func(result AuthenticationResult)
	OnFailed    func()
}

// OnAuthenticationError implements AuthenticationCallback.
func (c CallbackFuncs) OnAuthenticationError(code ErrorCode, message string) {
	if c.OnError != nil {
		c.OnError(code, message)
	}
}

// OnAuthenticationSucceeded implements AuthenticationCallback.
func (c CallbackFuncs) OnAuthenticationSucceeded(result AuthenticationResult) {
	if c.OnSucceeded != nil {
		c.OnSucceeded(result)
	}
}

// OnAuthenticationFailed implements AuthenticationCallback.
func (c CallbackFuncs) OnAuthenticationFailed() {
	if c.OnFailed != nil {
		c.OnFailed()
	}
}

// Prompt is a handle to an outstanding authentication.
type Prompt struct {
	id     string
	info   PromptInfo
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	failed int
}

// ID returns the prompt ID.
func (p *Prompt) ID() string {
	return p.id
}

// Info returns the prompt text.
func (p *Prompt) Info() PromptInfo {
	return p.info
}

// Cancel dismisses the prompt. The callback receives ErrorCanceled unless
// the prompt already ended.
func (p *Prompt) Cancel() {
	p.cancel(errPromptCanceled)
}

// Done is closed after the terminal callback has returned.
func (p *Prompt) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the prompt ends. It returns nil on success and *Error
// otherwise.
func (p *Prompt) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// FailedAttempts returns the number of rejected samples during this prompt.
func (p *Prompt) FailedAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

func (p *Prompt) recordFailure() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}

func (p *Prompt) finish(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}
