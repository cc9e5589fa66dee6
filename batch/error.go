// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import "errors"

var (
	// ErrMerkleMismatch is returned when the merkle root of a batch header
	// does not commit to its transactions.
	ErrMerkleMismatch = errors.New("merkle root mismatch")

	// ErrTotalOutMismatch is returned when the total output value of a
	// batch header differs from the sum over its transactions.
	ErrTotalOutMismatch = errors.New("total output value mismatch")

	// ErrChecksumMismatch is returned when the checksum of a batch header
	// does not match its content.
	ErrChecksumMismatch = errors.New("header checksum mismatch")

	// ErrExcessiveFee is returned for a transaction paying more than both
	// the absolute fee ceiling and twice the recommended fee.
	ErrExcessiveFee = errors.New("excessive transaction fee")

	// ErrNegativeFee is returned for a transaction spending more than its
	// inputs.
	ErrNegativeFee = errors.New("outputs exceed inputs")

	// ErrPrevOutMismatch is returned when a spent output recorded in a
	// batch differs from the one on chain.
	ErrPrevOutMismatch = errors.New("previous output mismatch")

	// ErrMalformedTx is returned for batch transactions that cannot be
	// decoded or whose paths do not match their inputs.
	ErrMalformedTx = errors.New("malformed batch transaction")
)
