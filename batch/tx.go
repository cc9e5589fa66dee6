// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/msigrecovery/cosign"
)

// Transaction is a sweep transaction with what later signers need to
// re-derive its signing keys: one chain path per input, relative to the
// backup master key, and one per output belonging to the destination.
type Transaction struct {
	Tx *wire.MsgTx

	// PrevOuts holds the outputs spent by Tx, one per input, or is nil
	// when they are unknown.  They are covered by neither the merkle root
	// nor the header checksum: offline validation and signing trust them,
	// while online validation refetches them and fails with
	// ErrPrevOutMismatch when they differ.
	PrevOuts []*wire.TxOut

	InputPaths  []string
	OutputPaths []string
}

// NewTransaction checks that paths and previous outputs match the inputs of
// tx and returns the transaction.
func NewTransaction(tx *wire.MsgTx, prevOuts []*wire.TxOut, inputPaths,
	outputPaths []string) (*Transaction, error) {

	if len(inputPaths) != len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d input paths for %d inputs",
			ErrMalformedTx, len(inputPaths), len(tx.TxIn))
	}
	if prevOuts != nil && len(prevOuts) != len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d previous outputs for %d inputs",
			ErrMalformedTx, len(prevOuts), len(tx.TxIn))
	}
	if len(outputPaths) > len(tx.TxOut) {
		return nil, fmt.Errorf("%w: %d output paths for %d outputs",
			ErrMalformedTx, len(outputPaths), len(tx.TxOut))
	}
	return &Transaction{
		Tx:          tx,
		PrevOuts:    prevOuts,
		InputPaths:  inputPaths,
		OutputPaths: outputPaths,
	}, nil
}

// Hash returns the transaction hash.  It changes as signatures are added.
func (t *Transaction) Hash() chainhash.Hash {
	return t.Tx.TxHash()
}

// TotalOut sums the output values.
func (t *Transaction) TotalOut() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range t.Tx.TxOut {
		total += btcutil.Amount(out.Value)
	}
	return total
}

// TotalIn sums the values of the spent outputs.  It returns false when they
// are unknown.
func (t *Transaction) TotalIn() (btcutil.Amount, bool) {
	if t.PrevOuts == nil {
		return 0, false
	}
	var total btcutil.Amount
	for _, out := range t.PrevOuts {
		total += btcutil.Amount(out.Value)
	}
	return total, true
}

// Serialize returns the raw transaction followed, when known, by the spent
// outputs in input order.
func (t *Transaction) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(t.Tx.SerializeSize())
	if err := t.Tx.Serialize(&buf); err != nil {
		return nil, err
	}
	for _, out := range t.PrevOuts {
		err := wire.WriteTxOut(&buf, 0, t.Tx.Version, out)
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Deserialize decodes the output of Serialize.
func (t *Transaction) Deserialize(b []byte) error {
	r := bytes.NewReader(b)
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.DeserializeNoWitness(r); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}

	var prevOuts []*wire.TxOut
	if r.Len() > 0 {
		prevOuts = make([]*wire.TxOut, len(tx.TxIn))
		for i := range prevOuts {
			out, err := readTxOut(r)
			if err != nil {
				return fmt.Errorf("%w: previous output %d: %v",
					ErrMalformedTx, i, err)
			}
			prevOuts[i] = out
		}
		if r.Len() > 0 {
			return fmt.Errorf("%w: %d trailing bytes", ErrMalformedTx,
				r.Len())
		}
	}

	t.Tx = tx
	t.PrevOuts = prevOuts
	return nil
}

func readTxOut(r *bytes.Reader) (*wire.TxOut, error) {
	var value [8]byte
	if _, err := io.ReadFull(r, value[:]); err != nil {
		return nil, err
	}
	pkScript, err := wire.ReadVarBytes(r, 0, wire.MaxMessagePayload,
		"pkScript")
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(
		int64(binary.LittleEndian.Uint64(value[:])), pkScript,
	), nil
}

type jsonTransaction struct {
	Bytes       string   `json:"bytes"`
	InputPaths  []string `json:"input_paths"`
	OutputPaths []string `json:"output_paths"`
}

// MarshalJSON encodes the transaction as a batch file entry.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	b, err := t.Serialize()
	if err != nil {
		return nil, err
	}
	inputPaths, outputPaths := t.InputPaths, t.OutputPaths
	if inputPaths == nil {
		inputPaths = []string{}
	}
	if outputPaths == nil {
		outputPaths = []string{}
	}
	return json.Marshal(jsonTransaction{
		Bytes:       hex.EncodeToString(b),
		InputPaths:  inputPaths,
		OutputPaths: outputPaths,
	})
}

// UnmarshalJSON decodes a batch file entry.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var j jsonTransaction
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	b, err := hex.DecodeString(j.Bytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	var tx Transaction
	if err := tx.Deserialize(b); err != nil {
		return err
	}
	parsed, err := NewTransaction(tx.Tx, tx.PrevOuts, j.InputPaths,
		j.OutputPaths)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// pkScript returns the script of the output spent by input idx: the known
// previous output script, or the P2SH script of the input's redeem script.
func (t *Transaction) pkScript(idx int) ([]byte, int64, error) {
	if t.PrevOuts != nil {
		out := t.PrevOuts[idx]
		return out.PkScript, out.Value, nil
	}
	parsed, err := cosign.ParseSigScript(t.Tx.TxIn[idx].SignatureScript)
	if err != nil {
		return nil, 0, err
	}
	if parsed.RedeemScript == nil {
		return nil, 0, fmt.Errorf("no redeem script for input %d", idx)
	}
	// The network only affects address encoding, not the script.
	addr, err := btcutil.NewAddressScriptHash(parsed.RedeemScript,
		&chaincfg.MainNetParams)
	if err != nil {
		return nil, 0, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	return pkScript, 0, err
}

// BadSignatureCount returns the number of inputs whose signature script
// does not satisfy the spent output yet, eg. because more cosigners have
// to sign.
func (t *Transaction) BadSignatureCount() int {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range t.Tx.TxIn {
		pkScript, value, err := t.pkScript(idx)
		if err != nil {
			continue
		}
		fetcher.AddPrevOut(txIn.PreviousOutPoint,
			wire.NewTxOut(value, pkScript))
	}
	sigHashes := txscript.NewTxSigHashes(t.Tx, fetcher)

	bad := 0
	for idx, txIn := range t.Tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		if prevOut == nil {
			bad++
			continue
		}
		vm, err := txscript.NewEngine(
			prevOut.PkScript, t.Tx, idx, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		if err != nil {
			bad++
			continue
		}
		if err := vm.Execute(); err != nil {
			log.Tracef("Input %d of %v not fully signed: %v", idx,
				t.Hash(), err)
			bad++
		}
	}
	return bad
}
