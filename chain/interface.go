// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Utxo is an unspent output paying to a watched address.
type Utxo struct {
	OutPoint      wire.OutPoint
	Value         btcutil.Amount
	PkScript      []byte
	Confirmations int64
}

// Provider is a source of blockchain data able to relay transactions.
// Recovery only needs address level lookups, so any block explorer style
// backend can serve it.
type Provider interface {
	// BlockchainTip returns the height of the best block.
	BlockchainTip(ctx context.Context) (int32, error)

	// GetTx returns the transaction with the given hash.
	GetTx(ctx context.Context, hash chainhash.Hash) (*wire.MsgTx, error)

	// SpendablesForAddress returns the unspent outputs paying to addr.
	SpendablesForAddress(ctx context.Context,
		addr btcutil.Address) ([]Utxo, error)

	// SendTx relays tx to the network.
	SendTx(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}

// Balance sums the values of utxos.
func Balance(utxos []Utxo) btcutil.Amount {
	var total btcutil.Amount
	for _, u := range utxos {
		total += u.Value
	}
	return total
}
