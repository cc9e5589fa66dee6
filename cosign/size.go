// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cosign

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// maxSigPushSize is the size of the largest DER signature plus its hash
// type byte and push opcode.
const maxSigPushSize = 74

// SigScriptSize returns the maximum size of a complete signature script
// spending redeemScript: the OP_0 dummy, the required signatures, and the
// redeem script push.
func SigScriptSize(redeemScript []byte) (int, error) {
	_, reqSigs, err := parseRedeemScript(redeemScript)
	if err != nil {
		return 0, err
	}
	n := len(redeemScript)
	return 1 + maxSigPushSize*reqSigs + n + 1 +
		wire.VarIntSerializeSize(uint64(n)), nil
}

// EstimateSignedSize returns an upper bound of the serialized size of tx
// once all its inputs are completely signed.  Nil entries of redeemScripts,
// or a nil slice, mean the redeem script is read from the input.
func EstimateSignedSize(tx *wire.MsgTx, redeemScripts [][]byte) (int, error) {
	if redeemScripts != nil && len(redeemScripts) != len(tx.TxIn) {
		str := fmt.Sprintf("got redeem scripts for %d inputs, tx has %d",
			len(redeemScripts), len(tx.TxIn))
		return 0, newError(ErrInputIndex, str, nil)
	}

	// Size the copy with the final signature scripts rather than relying
	// on per-field estimations.
	sized := tx.Copy()
	for idx, txIn := range sized.TxIn {
		var redeemScript []byte
		if redeemScripts != nil {
			redeemScript = redeemScripts[idx]
		}
		if redeemScript == nil {
			parsed, err := ParseSigScript(txIn.SignatureScript)
			if err != nil {
				return 0, err
			}
			redeemScript = parsed.RedeemScript
		}
		if redeemScript == nil {
			str := fmt.Sprintf("no redeem script for input %d", idx)
			return 0, newError(ErrMissingRedeemScript, str, nil)
		}
		size, err := SigScriptSize(redeemScript)
		if err != nil {
			return 0, err
		}
		txIn.SignatureScript = make([]byte, size)
	}
	return sized.SerializeSize(), nil
}
