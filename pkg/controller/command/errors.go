/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package command

// Type is command error type.
type Type int32

const (
	// ValidationError is error type for command validation errors.
	ValidationError Type = iota

	// ExecuteError is error type for command execution failure.
	ExecuteError

	// AuthError is error type for rejected caller credentials.
	AuthError

	// NotFoundError is error type for unknown workflows and exchanges.
	NotFoundError

	// ConflictError is error type for requests racing a concurrent update or hitting a terminal state.
	ConflictError
)

// Code is the error code of command errors.
type Code int32

const (
	// UnknownStatus default error code for unknown errors.
	UnknownStatus Code = iota
)

// Group is the error groups.
// Note: recommended to use [0-9]*000 pattern for any new entries
// Example: 2000, 3000, 4000 ...... 25000.
type Group int32

const (
	// Common error group for general command errors.
	Common Group = 1000

	// Exchange error group for exchange controller errors.
	Exchange Group = 2000

	// OIDC error group for code redemption errors.
	OIDC Group = 3000
)

// Error is the  interface for representing an command error condition, with the nil value representing no error.
type Error interface {
	error
	// Code returns error code for this command error.
	Code() Code
	// Type returns error type for this command error.
	Type() Type
}

// NewValidationError returns new command validation error.
func NewValidationError(code Code, err error) Error {
	return &commandError{err, code, ValidationError}
}

// NewExecuteError returns new command execute error.
func NewExecuteError(code Code, err error) Error {
	return &commandError{err, code, ExecuteError}
}

// NewAuthError returns new command authorization error.
func NewAuthError(code Code, err error) Error {
	return &commandError{err, code, AuthError}
}

// NewNotFoundError returns new command not found error.
func NewNotFoundError(code Code, err error) Error {
	return &commandError{err, code, NotFoundError}
}

// NewConflictError returns new command conflict error.
func NewConflictError(code Code, err error) Error {
	return &commandError{err, code, ConflictError}
}

// commandError implements basic command Error.
type commandError struct {
	error
	code    Code
	errType Type
}

func (c *commandError) Code() Code {
	return c.code
}

func (c *commandError) Type() Type {
	return c.errType
}

func (c *commandError) Unwrap() error {
	return c.error
}
