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
	"errors"
	"fmt"
)

// ErrorCode identifies why a prompt ended without success. Values match the
// platform biometric prompt error codes.
type ErrorCode int

const (
	ErrorHWUnavailable          ErrorCode = 1
	ErrorUnableToProcess        ErrorCode = 2
	ErrorTimeout                ErrorCode = 3
	ErrorCanceled               ErrorCode = 5
	ErrorLockout                ErrorCode = 7
	ErrorUserCanceled           ErrorCode = 10
	ErrorNoBiometrics           ErrorCode = 11
	ErrorHWNotPresent           ErrorCode = 12
	ErrorNegativeButton         ErrorCode = 13
	ErrorSecurityUpdateRequired ErrorCode = 15
)

var errorCodeNames = map[ErrorCode]string{
	ErrorHWUnavailable:          "hw_unavailable",
	ErrorUnableToProcess:        "unable_to_process",
	ErrorTimeout:                "timeout",
	ErrorCanceled:               "canceled",
	ErrorLockout:                "lockout",
	ErrorUserCanceled:           "user_canceled",
	ErrorNoBiometrics:           "no_biometrics",
	ErrorHWNotPresent:           "hw_not_present",
	ErrorNegativeButton:         "negative_button",
	ErrorSecurityUpdateRequired: "security_update_required",
}

var errorCodeMessages = map[ErrorCode]string{
	ErrorHWUnavailable:          "Biometric hardware is unavailable",
	ErrorUnableToProcess:        "Unable to process biometric sample",
	ErrorTimeout:                "Biometric authentication timed out",
	ErrorCanceled:               "Biometric operation canceled",
	ErrorLockout:                "Too many attempts. Try again later.",
	ErrorUserCanceled:           "Authentication canceled by user",
	ErrorNoBiometrics:           "No biometrics enrolled",
	ErrorHWNotPresent:           "No biometric hardware",
	ErrorNegativeButton:         "Cancel",
	ErrorSecurityUpdateRequired: "A security update is required for the biometric sensor",
}

// String returns the snake_case name of the code.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error(%d)", int(c))
}

// Message returns the default human readable message for the code.
func (c ErrorCode) Message() string {
	if msg, ok := errorCodeMessages[c]; ok {
		return msg
	}
	return c.String()
}

// Error is a terminal prompt error.
type Error struct {
	Code    ErrorCode
	Message string
}

// NewError creates an Error with the code's default message.
func NewError(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.Message()}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("biometric: %s (%d): %s", e.Code, int(e.Code), e.Message)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf returns the ErrorCode carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

var (
	// ErrPromptActive is returned when a prompt is already outstanding.
	ErrPromptActive = errors.New("biometric: a prompt is already active")

	// ErrNilCallback is returned when Authenticate is called without a callback.
	ErrNilCallback = errors.New("biometric: callback is required")

	// ErrInvalidPromptInfo is returned when the prompt has no title or negative button text.
	ErrInvalidPromptInfo = errors.New("biometric: prompt title and negative button text are required")

	// ErrNotEnrolled is returned when no credential has been enrolled.
	ErrNotEnrolled = errors.New("biometric: no enrollment")

	// ErrCorruptEnrollment is returned when the enrollment record cannot be decoded.
	ErrCorruptEnrollment = errors.New("biometric: corrupt enrollment record")
)
