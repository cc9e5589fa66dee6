// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package recovery

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/msigrecovery/batch"
	"github.com/btcsuite/msigrecovery/branch"
	"github.com/btcsuite/msigrecovery/chain"
	"github.com/btcsuite/msigrecovery/cosign"
)

// sweepInput is an unspent output of the origin account with what is
// needed to spend it.
type sweepInput struct {
	utxo         chain.Utxo
	redeemScript []byte
	keys         []*btcec.PrivateKey

	// path is the leaf path relative to the backup master key.
	path string
}

// createAndSignTx builds the sweep of account index.  The unspent outputs
// are fetched again for the leaves found holding funds, and the account is
// rebuilt from its recorded keys so no oracle is contacted.  The returned
// record carries the balance even along with ErrInsufficientBalance.
func (l *Ledger) createAndSignTx(ctx context.Context,
	index uint32) (*txRecord, error) {

	origin, err := l.loadOrigin(index)
	if err != nil {
		return nil, err
	}
	originRec := origin.UnwrapOr(nil)
	if originRec == nil || !originRec.Found {
		return nil, fmt.Errorf("%w: origin account %d", ErrNotDiscovered,
			index)
	}
	dest, err := l.loadDestination(index)
	if err != nil {
		return nil, err
	}
	destRec := dest.UnwrapOr(nil)
	if destRec == nil {
		return nil, fmt.Errorf("%w: destination account %d",
			ErrNotDiscovered, index)
	}

	account, err := l.cfg.Origin.RestoreAccount(index, originRec.PubKeys)
	if err != nil {
		return nil, err
	}
	destAddr, err := btcutil.DecodeAddress(
		destRec.Address, l.cfg.Destination.Net(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address %s: %w",
			destRec.Address, err)
	}

	accountPath := l.cfg.Origin.BackupAccountPath(index)
	var inputs []sweepInput
	for _, leaf := range originRec.Leaves {
		if leaf.Balance == 0 {
			continue
		}
		leafInputs, err := l.leafInputs(ctx, account, accountPath, leaf)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, leafInputs...)
	}

	rec := &txRecord{}
	for _, in := range inputs {
		rec.Balance += in.utxo.Value
	}
	if len(inputs) == 0 {
		return rec, fmt.Errorf("%w: account %d has no unspent outputs",
			ErrInsufficientBalance, index)
	}

	tx, fee, err := buildSweep(inputs, destAddr, l.cfg.FeePerKb)
	rec.Fee = fee
	if err != nil {
		return rec, err
	}
	for idx, in := range inputs {
		err := cosign.SignInput(tx, idx, in.keys, in.redeemScript)
		if err != nil {
			return nil, err
		}
	}

	prevOuts := make([]*wire.TxOut, len(inputs))
	inputPaths := make([]string, len(inputs))
	for i, in := range inputs {
		prevOuts[i] = wire.NewTxOut(int64(in.utxo.Value), in.utxo.PkScript)
		inputPaths[i] = in.path
	}
	rec.Tx, err = batch.NewTransaction(
		tx, prevOuts, inputPaths, []string{destRec.Path},
	)
	if err != nil {
		return nil, err
	}

	log.Infof("Account %d balance: %v, fee: %v, recovering %v in %v",
		index, rec.Balance, fee, rec.Tx.TotalOut(), rec.Tx.Hash())
	return rec, nil
}

// leafInputs fetches the unspent outputs of one leaf.
func (l *Ledger) leafInputs(ctx context.Context,
	account *branch.MultisigAccount, accountPath string,
	leaf leafRecord) ([]sweepInput, error) {

	addr, err := account.Address(leaf.Chain, leaf.Index)
	if err != nil {
		return nil, err
	}
	if addr.EncodeAddress() != leaf.Address {
		return nil, fmt.Errorf("%w: %d/%s derives %s, recorded %s",
			ErrAddressMismatch, account.Index,
			branch.ChainPath(leaf.Chain, leaf.Index), addr.EncodeAddress(),
			leaf.Address)
	}
	redeemScript, err := account.RedeemScript(leaf.Chain, leaf.Index)
	if err != nil {
		return nil, err
	}
	keys, err := account.PrivKeys(leaf.Chain, leaf.Index)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	utxos, err := l.cfg.Provider.SpendablesForAddress(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch unspent outputs of %s: %w",
			leaf.Address, err)
	}
	path := branch.FullLeafPath(
		accountPath, branch.ChainPath(leaf.Chain, leaf.Index),
	)
	inputs := make([]sweepInput, 0, len(utxos))
	for _, utxo := range utxos {
		if !bytes.Equal(utxo.PkScript, pkScript) {
			return nil, fmt.Errorf("%w: %v for %s", ErrPkScriptMismatch,
				utxo.OutPoint, leaf.Address)
		}
		inputs = append(inputs, sweepInput{
			utxo:         utxo,
			redeemScript: redeemScript,
			keys:         keys,
			path:         path,
		})
	}
	return inputs, nil
}

// buildSweep creates an unsigned transaction spending every input to dest,
// less the fee for its size once completely signed.
func buildSweep(inputs []sweepInput, dest btcutil.Address,
	feePerKb btcutil.Amount) (*wire.MsgTx, btcutil.Amount, error) {

	pkScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, 0, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	var total btcutil.Amount
	for _, in := range inputs {
		outPoint := in.utxo.OutPoint
		tx.AddTxIn(wire.NewTxIn(&outPoint, nil, nil))
		total += in.utxo.Value
	}
	out := wire.NewTxOut(int64(total), pkScript)
	tx.AddTxOut(out)

	size, err := estimateSweepSize(inputs, tx.TxOut)
	if err != nil {
		return nil, 0, err
	}
	fee := txrules.FeeForSerializeSize(feePerKb, size)
	out.Value = int64(total - fee)
	if out.Value <= 0 {
		return nil, fee, fmt.Errorf("%w: %v cannot pay fee %v",
			ErrInsufficientBalance, total, fee)
	}
	err = txrules.CheckOutput(out, txrules.DefaultRelayFeePerKb)
	if err != nil {
		return nil, fee, fmt.Errorf("%w: %v less fee %v: %v",
			ErrInsufficientBalance, total, fee, err)
	}
	return tx, fee, nil
}

// estimateSweepSize returns the worst case serialize size of a sweep once
// every required signature is present.
func estimateSweepSize(inputs []sweepInput, outputs []*wire.TxOut) (int, error) {
	// 8 additional bytes are for version and locktime.
	size := 8 + wire.VarIntSerializeSize(uint64(len(inputs))) +
		wire.VarIntSerializeSize(uint64(len(outputs))) +
		txsizes.SumOutputSerializeSizes(outputs)
	for _, in := range inputs {
		sigScriptSize, err := cosign.SigScriptSize(in.redeemScript)
		if err != nil {
			return 0, err
		}
		// Outpoint and sequence.
		size += 32 + 4 + 4 +
			wire.VarIntSerializeSize(uint64(sigScriptSize)) +
			sigScriptSize
	}
	return size, nil
}
