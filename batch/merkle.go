// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"bytes"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

// EmptyMerkleRoot is the merkle root of a batch without transactions.
var EmptyMerkleRoot = strings.Repeat("0", 64)

// MerkleRoot returns the root of the bitcoin merkle tree over the hashes of
// txs, sorted by hash, in the byte-reversed hex form of transaction ids.
// The order of txs does not matter.
func MerkleRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return EmptyMerkleRoot
	}

	leaves := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		leaves[i] = btcutil.NewTx(tx.Tx)
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i].Hash()[:], leaves[j].Hash()[:]) < 0
	})

	store := blockchain.BuildMerkleTreeStore(leaves, false)
	return store[len(store)-1].String()
}
