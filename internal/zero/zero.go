// Copyright (c) 2015, 2026 The btcsuite developers
// Copyright (c) 2015 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero contains functions to clear key material from memory.
package zero

import "github.com/btcsuite/btcd/btcutil/hdkeychain"

// Bytes sets all bytes in the passed slice to zero.  This is used to
// explicitly clear seeds once the master key has been derived from them.
func Bytes(b []byte) {
	z := [32]byte{}
	n := uint(copy(b, z[:]))
	for n < uint(len(b)) {
		copy(b[n:], b[:n])
		n <<= 1
	}
}

// Keys clears the key data of every passed extended key.  Nil keys are
// skipped.
func Keys(keys ...*hdkeychain.ExtendedKey) {
	for _, key := range keys {
		if key != nil {
			key.Zero()
		}
	}
}
