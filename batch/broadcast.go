// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/msigrecovery/chain"
)

// BroadcastResult is the outcome of relaying one batch transaction.
type BroadcastResult struct {
	TxID chainhash.Hash

	// Raw is the hex encoded transaction, kept so failed transactions
	// can be relayed by other means.
	Raw string
	Err error
}

// Broadcast relays every transaction of b through p.  Transactions are
// independent: a failure is recorded and the others are still sent.
func Broadcast(ctx context.Context, b *Batch,
	p chain.Provider) []BroadcastResult {

	results := make([]BroadcastResult, 0, len(b.Txs))
	for _, tx := range b.Txs {
		var buf bytes.Buffer
		result := BroadcastResult{TxID: tx.Hash()}
		if err := tx.Tx.Serialize(&buf); err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}
		result.Raw = hex.EncodeToString(buf.Bytes())

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			results = append(results, result)
			continue
		}

		if _, err := p.SendTx(ctx, tx.Tx); err != nil {
			log.Errorf("Tx %v failed to propagate [%s]: %v", result.TxID,
				result.Raw, err)
			result.Err = err
		} else {
			log.Infof("Broadcasted %v", result.TxID)
		}
		results = append(results, result)
	}
	return results
}
