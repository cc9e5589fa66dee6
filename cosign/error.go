// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cosign

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of signing error.
type ErrorCode int

const (
	// ErrMissingRedeemScript indicates an input with no redeem script,
	// neither given nor found in its signature script.
	ErrMissingRedeemScript ErrorCode = iota

	// ErrInvalidRedeemScript indicates a redeem script that is not a
	// multisig script, or one that differs from the script already present
	// on the input.
	ErrInvalidRedeemScript

	// ErrUnknownKey indicates a signing key whose public key is not part
	// of the redeem script.
	ErrUnknownKey

	// ErrRawSigning indicates an error generating a raw signature.
	ErrRawSigning

	// ErrSignatureOrder indicates signatures that could not all be matched
	// to a public key of the redeem script.
	ErrSignatureOrder

	// ErrInputIndex indicates an input index out of range, or per-input
	// arguments whose count does not match the inputs.
	ErrInputIndex

	// lastErr is used for testing, making it possible to iterate over
	// the error codes in order to check that they all have proper
	// translations in errorCodeStrings.
	lastErr
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrMissingRedeemScript: "ErrMissingRedeemScript",
	ErrInvalidRedeemScript: "ErrInvalidRedeemScript",
	ErrUnknownKey:          "ErrUnknownKey",
	ErrRawSigning:          "ErrRawSigning",
	ErrSignatureOrder:      "ErrSignatureOrder",
	ErrInputIndex:          "ErrInputIndex",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is a typed error for all errors arising while signing.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// newError creates a new Error.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether err is, or wraps, an Error with the given code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == code
}
