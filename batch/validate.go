// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/msigrecovery/chain"
	"github.com/btcsuite/msigrecovery/cosign"
)

const (
	// DefaultFeePerKb is the fee rate recommended fees are computed with.
	DefaultFeePerKb = txrules.DefaultRelayFeePerKb * 10

	// DefaultMaxAbsoluteFee is the fee above which a transaction is
	// rejected if it also pays more than twice the recommended fee.
	DefaultMaxAbsoluteFee btcutil.Amount = 100000
)

// TxReport describes one validated transaction.  Input related fields are
// only set by online validation.
type TxReport struct {
	Hash           chainhash.Hash
	TotalIn        btcutil.Amount
	TotalOut       btcutil.Amount
	Fee            btcutil.Amount
	FeePercent     float64
	RecommendedFee btcutil.Amount
	SignedSize     int

	// BadSignatures is the number of inputs not completely signed yet.
	BadSignatures int
}

// Report is the result of a successful validation.
type Report struct {
	Online   bool
	TotalOut btcutil.Amount
	Txs      []TxReport
}

// BadSignatures sums the bad signature counts of the transactions.
func (r *Report) BadSignatures() int {
	n := 0
	for _, tx := range r.Txs {
		n += tx.BadSignatures
	}
	return n
}

// Validator checks batches.  A nil Provider restricts validation to what can
// be checked offline.
type Validator struct {
	Provider       chain.Provider
	FeePerKb       btcutil.Amount
	MaxAbsoluteFee btcutil.Amount
}

// Validate checks b with the default fee limits.
func Validate(ctx context.Context, b *Batch,
	provider chain.Provider) (*Report, error) {

	v := &Validator{
		Provider:       provider,
		FeePerKb:       DefaultFeePerKb,
		MaxAbsoluteFee: DefaultMaxAbsoluteFee,
	}
	return v.Validate(ctx, b)
}

// Validate checks the header commitments of b and, online, the fee of each
// transaction.  Any error invalidates the whole batch.  Offline, the
// recorded previous outputs are trusted as they are.
func (v *Validator) Validate(ctx context.Context, b *Batch) (*Report, error) {
	if root := MerkleRoot(b.Txs); root != b.Header.MerkleRoot {
		return nil, fmt.Errorf("%w: header has %s, transactions give %s",
			ErrMerkleMismatch, b.Header.MerkleRoot, root)
	}
	totalOut := b.TotalOut()
	if int64(totalOut) != b.Header.TotalOut {
		return nil, fmt.Errorf("%w: header has %d, transactions give %d",
			ErrTotalOutMismatch, b.Header.TotalOut, int64(totalOut))
	}
	if sum := b.Header.ComputeChecksum(); sum != b.Header.Checksum {
		return nil, fmt.Errorf("%w: header has %d, content gives %d",
			ErrChecksumMismatch, b.Header.Checksum, sum)
	}

	if v.Provider != nil {
		log.Infof("Doing full, online validation of %d transactions",
			len(b.Txs))
	} else {
		log.Infof("Doing limited, offline validation of %d transactions",
			len(b.Txs))
	}

	report := &Report{
		Online:   v.Provider != nil,
		TotalOut: totalOut,
		Txs:      make([]TxReport, 0, len(b.Txs)),
	}
	for _, tx := range b.Txs {
		txReport, err := v.validateTx(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("tx %v: %w", tx.Hash(), err)
		}
		report.Txs = append(report.Txs, *txReport)
	}
	return report, nil
}

func (v *Validator) validateTx(ctx context.Context,
	tx *Transaction) (*TxReport, error) {

	report := &TxReport{
		Hash:     tx.Hash(),
		TotalOut: tx.TotalOut(),
	}

	size, err := cosign.EstimateSignedSize(tx.Tx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	report.SignedSize = size
	report.RecommendedFee = txrules.FeeForSerializeSize(v.FeePerKb, size)

	if v.Provider == nil {
		report.BadSignatures = tx.BadSignatureCount()
		return report, nil
	}

	prevOuts, err := v.fetchPrevOuts(ctx, tx)
	if err != nil {
		return nil, err
	}
	checked := *tx
	checked.PrevOuts = prevOuts
	report.BadSignatures = checked.BadSignatureCount()

	report.TotalIn, _ = checked.TotalIn()
	report.Fee = report.TotalIn - report.TotalOut
	if report.Fee < 0 {
		return nil, fmt.Errorf("%w: in %v, out %v", ErrNegativeFee,
			report.TotalIn, report.TotalOut)
	}
	if report.TotalIn > 0 {
		report.FeePercent = 100 * float64(report.Fee) /
			float64(report.TotalIn)
	}

	if report.Fee > v.MaxAbsoluteFee &&
		report.Fee > 2*report.RecommendedFee {

		return nil, fmt.Errorf("%w: fee %v (%.2f%%), recommended %v",
			ErrExcessiveFee, report.Fee, report.FeePercent,
			report.RecommendedFee)
	}
	return report, nil
}

// fetchPrevOuts fetches the outputs spent by tx and checks them against
// the ones recorded in the batch, if any.
func (v *Validator) fetchPrevOuts(ctx context.Context,
	tx *Transaction) ([]*wire.TxOut, error) {

	prevOuts := make([]*wire.TxOut, len(tx.Tx.TxIn))
	txs := make(map[chainhash.Hash]*wire.MsgTx)
	for i, txIn := range tx.Tx.TxIn {
		op := txIn.PreviousOutPoint
		prevTx, ok := txs[op.Hash]
		if !ok {
			var err error
			prevTx, err = v.Provider.GetTx(ctx, op.Hash)
			if err != nil {
				return nil, fmt.Errorf("cannot fetch previous tx %v: %w",
					op.Hash, err)
			}
			txs[op.Hash] = prevTx
		}
		if op.Index >= uint32(len(prevTx.TxOut)) {
			return nil, fmt.Errorf("%w: %v does not exist",
				ErrPrevOutMismatch, op)
		}
		prevOut := prevTx.TxOut[op.Index]
		if tx.PrevOuts != nil {
			recorded := tx.PrevOuts[i]
			if recorded.Value != prevOut.Value ||
				!bytes.Equal(recorded.PkScript, prevOut.PkScript) {

				return nil, fmt.Errorf("%w: %v", ErrPrevOutMismatch, op)
			}
		}
		prevOuts[i] = prevOut
	}
	return prevOuts, nil
}
