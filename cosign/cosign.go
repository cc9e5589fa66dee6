// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cosign adds signatures to partially signed pay-to-script-hash
// multisig inputs.
//
// A partially signed input carries the signature script
//
//	OP_0 <sig>... <redeem script>
//
// with fewer signatures than the redeem script requires.  Each signer adds
// its own signatures and the merged set is put back in the order of the
// public keys in the redeem script, which OP_CHECKMULTISIG requires.
package cosign

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// scriptParams is only used to parse public keys out of redeem scripts; the
// network does not affect them.
var scriptParams = &chaincfg.MainNetParams

// Sign signs every input of tx with the keys given for it.  redeemScripts
// may be nil, or hold nil entries, for inputs already carrying a partial
// signature script.  Inputs with no keys are left untouched.
func Sign(tx *wire.MsgTx, keys [][]*btcec.PrivateKey,
	redeemScripts [][]byte) error {

	if len(keys) != len(tx.TxIn) {
		str := fmt.Sprintf("got keys for %d inputs, tx has %d", len(keys),
			len(tx.TxIn))
		return newError(ErrInputIndex, str, nil)
	}
	if redeemScripts != nil && len(redeemScripts) != len(tx.TxIn) {
		str := fmt.Sprintf("got redeem scripts for %d inputs, tx has %d",
			len(redeemScripts), len(tx.TxIn))
		return newError(ErrInputIndex, str, nil)
	}

	for idx := range tx.TxIn {
		if len(keys[idx]) == 0 {
			continue
		}
		var redeemScript []byte
		if redeemScripts != nil {
			redeemScript = redeemScripts[idx]
		}
		if err := SignInput(tx, idx, keys[idx], redeemScript); err != nil {
			return err
		}
	}
	return nil
}

// SignInput adds the signatures of keys to input idx of tx, merging them
// with the signatures already present and ordering the result after the
// redeem script.  When redeemScript is nil it is taken from the existing
// signature script.  Fewer signatures than required leave a partial
// signature script.  An existing script that gains no signature is left
// byte for byte as it is; one that does is rebuilt in key order.
func SignInput(tx *wire.MsgTx, idx int, keys []*btcec.PrivateKey,
	redeemScript []byte) error {

	if idx < 0 || idx >= len(tx.TxIn) {
		str := fmt.Sprintf("input %d out of range", idx)
		return newError(ErrInputIndex, str, nil)
	}

	present, err := ParseSigScript(tx.TxIn[idx].SignatureScript)
	if err != nil {
		return err
	}
	switch {
	case redeemScript == nil && present.RedeemScript == nil:
		str := fmt.Sprintf("no redeem script for input %d", idx)
		return newError(ErrMissingRedeemScript, str, nil)

	case redeemScript == nil:
		redeemScript = present.RedeemScript

	case present.RedeemScript != nil &&
		!bytes.Equal(redeemScript, present.RedeemScript):

		str := fmt.Sprintf("redeem script of input %d differs from the "+
			"one already present", idx)
		return newError(ErrInvalidRedeemScript, str, nil)
	}

	pubKeys, reqSigs, err := parseRedeemScript(redeemScript)
	if err != nil {
		return err
	}

	sigs := present.Sigs
	added := false
	for _, key := range keys {
		if !containsKey(pubKeys, key.PubKey()) {
			str := fmt.Sprintf("key %x is not part of the redeem script "+
				"of input %d", key.PubKey().SerializeCompressed(), idx)
			return newError(ErrUnknownKey, str, nil)
		}
		sig, err := txscript.RawTxInSignature(
			tx, idx, redeemScript, txscript.SigHashAll, key,
		)
		if err != nil {
			str := fmt.Sprintf("failed to sign input %d", idx)
			return newError(ErrRawSigning, str, err)
		}
		// Signatures are deterministic, so signing twice with the same
		// key gives an identical signature.
		if !containsSig(sigs, sig) {
			sigs = append(sigs, sig)
			added = true
		}
	}
	if !added && present.RedeemScript != nil {
		return nil
	}

	ordered, err := orderSignatures(tx, idx, redeemScript, pubKeys, sigs)
	if err != nil {
		return err
	}
	if len(ordered) > reqSigs {
		ordered = ordered[:reqSigs]
	}
	if len(ordered) < reqSigs {
		log.Debugf("Input %d has %d of %d signatures", idx, len(ordered),
			reqSigs)
	}

	script, err := buildSigScript(ordered, redeemScript)
	if err != nil {
		str := fmt.Sprintf("cannot build signature script of input %d", idx)
		return newError(ErrRawSigning, str, err)
	}
	tx.TxIn[idx].SignatureScript = script
	return nil
}

// OrderSignatures returns sigs in the order of the public keys they verify
// against in redeemScript.  Every signature must match a distinct key.
func OrderSignatures(tx *wire.MsgTx, idx int, redeemScript []byte,
	sigs [][]byte) ([][]byte, error) {

	pubKeys, _, err := parseRedeemScript(redeemScript)
	if err != nil {
		return nil, err
	}
	return orderSignatures(tx, idx, redeemScript, pubKeys, sigs)
}

func orderSignatures(tx *wire.MsgTx, idx int, redeemScript []byte,
	pubKeys []*btcec.PublicKey, sigs [][]byte) ([][]byte, error) {

	assigned := make([]bool, len(sigs))
	ordered := make([][]byte, 0, len(sigs))
	for _, pubKey := range pubKeys {
		for i, sig := range sigs {
			if assigned[i] {
				continue
			}
			if verifySig(tx, idx, redeemScript, pubKey, sig) {
				assigned[i] = true
				ordered = append(ordered, sig)
				break
			}
		}
	}
	if len(ordered) != len(sigs) {
		str := fmt.Sprintf("only %d of %d signatures of input %d match "+
			"the redeem script", len(ordered), len(sigs), idx)
		return nil, newError(ErrSignatureOrder, str, nil)
	}
	return ordered, nil
}

// verifySig checks a raw signature, hash type byte included, of input idx
// against pubKey.
func verifySig(tx *wire.MsgTx, idx int, redeemScript []byte,
	pubKey *btcec.PublicKey, rawSig []byte) bool {

	if len(rawSig) < 2 {
		return false
	}
	hashType := txscript.SigHashType(rawSig[len(rawSig)-1])
	sig, err := ecdsa.ParseDERSignature(rawSig[:len(rawSig)-1])
	if err != nil {
		return false
	}
	hash, err := txscript.CalcSignatureHash(redeemScript, hashType, tx, idx)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}

// SigScript is a parsed multisig signature script.
type SigScript struct {
	Sigs         [][]byte
	RedeemScript []byte
}

// ParseSigScript parses an OP_0 <sig>... <redeem script> signature script.
// An empty script parses to an empty SigScript.
func ParseSigScript(script []byte) (*SigScript, error) {
	if len(script) == 0 {
		return &SigScript{}, nil
	}
	pushes, err := txscript.PushedData(script)
	if err != nil {
		return nil, newError(ErrInvalidRedeemScript, "unparseable "+
			"signature script", err)
	}
	if len(pushes) == 0 {
		return &SigScript{}, nil
	}

	redeemScript := pushes[len(pushes)-1]
	if txscript.GetScriptClass(redeemScript) != txscript.MultiSigTy {
		return nil, newError(ErrInvalidRedeemScript, "signature script "+
			"does not end with a multisig redeem script", nil)
	}
	var sigs [][]byte
	for _, push := range pushes[:len(pushes)-1] {
		if len(push) > 0 {
			sigs = append(sigs, push)
		}
	}
	return &SigScript{Sigs: sigs, RedeemScript: redeemScript}, nil
}

// SignatureCount returns the number of signatures present in a signature
// script and the number the redeem script requires.
func SignatureCount(script []byte) (int, int, error) {
	parsed, err := ParseSigScript(script)
	if err != nil {
		return 0, 0, err
	}
	if parsed.RedeemScript == nil {
		return 0, 0, newError(ErrMissingRedeemScript, "empty signature "+
			"script", nil)
	}
	_, reqSigs, err := parseRedeemScript(parsed.RedeemScript)
	if err != nil {
		return 0, 0, err
	}
	return len(parsed.Sigs), reqSigs, nil
}

func parseRedeemScript(script []byte) ([]*btcec.PublicKey, int, error) {
	class, addrs, reqSigs, err := txscript.ExtractPkScriptAddrs(
		script, scriptParams,
	)
	if err != nil {
		return nil, 0, newError(ErrInvalidRedeemScript, "unparseable "+
			"redeem script", err)
	}
	if class != txscript.MultiSigTy {
		str := fmt.Sprintf("redeem script is not multi-sig: %v", class)
		return nil, 0, newError(ErrInvalidRedeemScript, str, nil)
	}
	pubKeys := make([]*btcec.PublicKey, len(addrs))
	for i, addr := range addrs {
		pk, ok := addr.(*btcutil.AddressPubKey)
		if !ok {
			return nil, 0, newError(ErrInvalidRedeemScript,
				"unexpected address type in redeem script", nil)
		}
		pubKeys[i] = pk.PubKey()
	}
	return pubKeys, reqSigs, nil
}

func buildSigScript(sigs [][]byte, redeemScript []byte) ([]byte, error) {
	// Start with an OP_0 because of the bug in bitcoind.
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_FALSE)
	for _, sig := range sigs {
		b.AddData(sig)
	}
	return b.AddData(redeemScript).Script()
}

func containsKey(pubKeys []*btcec.PublicKey, key *btcec.PublicKey) bool {
	for _, pk := range pubKeys {
		if pk.IsEqual(key) {
			return true
		}
	}
	return false
}

func containsSig(sigs [][]byte, sig []byte) bool {
	for _, s := range sigs {
		if bytes.Equal(s, sig) {
			return true
		}
	}
	return false
}
