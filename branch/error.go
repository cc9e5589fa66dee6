// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package branch

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

const (
	// ErrUnknownSourceKind indicates a key source implementation the
	// account derivation does not know how to handle.
	ErrUnknownSourceKind ErrorCode = iota

	// ErrInvalidKeySource indicates a key source string that could not be
	// parsed as a seed, an extended key, a pubkey table or an oracle URL.
	ErrInvalidKeySource

	// ErrOracleNotLast indicates an oracle key source that is not the last
	// source of a branch.
	ErrOracleNotLast

	// ErrUnknownKeychain indicates the oracle has no keychain for the
	// identifier derived from the other member keys.
	ErrUnknownKeychain

	// ErrUnknownAccountIndex indicates a pubkey table lookup miss.
	ErrUnknownAccountIndex

	// ErrMissingRegistration indicates that an oracle keychain had to be
	// registered but no registration data exists for the account.
	ErrMissingRegistration

	// ErrKeyChain indicates an error with the key chain typically either
	// due to the inability to create an extended key or deriving a child
	// extended key.
	ErrKeyChain

	// ErrKeyMismatch indicates a re-derived key that does not match the
	// key recorded for the same account.
	ErrKeyMismatch

	// ErrScriptCreation indicates that the creation of a multisig redeem
	// script failed.
	ErrScriptCreation

	// ErrInvalidPath indicates a malformed chain path.
	ErrInvalidPath

	// ErrInvalidTemplate indicates an unknown account template name or a
	// key source list the template cannot work with.
	ErrInvalidTemplate

	// lastErr is used for testing, making it possible to iterate over
	// the error codes in order to check that they all have proper
	// translations in errorCodeStrings.
	lastErr
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrUnknownSourceKind:   "ErrUnknownSourceKind",
	ErrInvalidKeySource:    "ErrInvalidKeySource",
	ErrOracleNotLast:       "ErrOracleNotLast",
	ErrUnknownKeychain:     "ErrUnknownKeychain",
	ErrUnknownAccountIndex: "ErrUnknownAccountIndex",
	ErrMissingRegistration: "ErrMissingRegistration",
	ErrKeyChain:            "ErrKeyChain",
	ErrKeyMismatch:         "ErrKeyMismatch",
	ErrScriptCreation:      "ErrScriptCreation",
	ErrInvalidPath:         "ErrInvalidPath",
	ErrInvalidTemplate:     "ErrInvalidTemplate",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error is a typed error for all errors arising while deriving branch
// accounts from their key sources.
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
	if !errors.As(err, &e) {
		return false
	}
	return e.ErrorCode == code
}
