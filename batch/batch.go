// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/msigrecovery/branch"
	"github.com/btcsuite/msigrecovery/cosign"
)

// Header commits to the content of a batch.
type Header struct {
	OriginMasterKeyIDs      []string `json:"original_master_xpubs"`
	DestinationMasterKeyIDs []string `json:"destination_master_xpubs"`
	MerkleRoot              string   `json:"merkle_root"`
	TotalOut                int64    `json:"total_out"`
	Checksum                uint32   `json:"checksum"`
}

// ComputeChecksum returns the checksum of the header fields: the first four
// bytes, big endian, of the double SHA-256 of their serialization.  The
// stored Checksum is not part of it.
//
// The checksum is unkeyed.  It detects accidental corruption of a batch
// file, not deliberate edits: anyone changing the header can recompute it.
// Signers must check the master key IDs and destination outputs against
// their own keys.
func (h *Header) ComputeChecksum() uint32 {
	var buf bytes.Buffer
	writeStrings := func(strs []string) {
		_ = wire.WriteVarInt(&buf, 0, uint64(len(strs)))
		for _, s := range strs {
			_ = wire.WriteVarString(&buf, 0, s)
		}
	}
	writeStrings(h.OriginMasterKeyIDs)
	writeStrings(h.DestinationMasterKeyIDs)
	_ = wire.WriteVarString(&buf, 0, h.MerkleRoot)
	var totalOut [8]byte
	binary.LittleEndian.PutUint64(totalOut[:], uint64(h.TotalOut))
	buf.Write(totalOut[:])

	hash := chainhash.DoubleHashB(buf.Bytes())
	return binary.BigEndian.Uint32(hash[:4])
}

// Batch is the set of sweep transactions of a recovery, exchanged between
// the signers as a file.
type Batch struct {
	Header Header         `json:"header"`
	Txs    []*Transaction `json:"txs"`
}

// New creates a batch of txs and computes its header.
func New(originKeyIDs, destinationKeyIDs []string, txs []*Transaction) *Batch {
	b := &Batch{
		Header: Header{
			OriginMasterKeyIDs:      originKeyIDs,
			DestinationMasterKeyIDs: destinationKeyIDs,
		},
		Txs: txs,
	}
	b.Refresh()
	return b
}

// TotalOut sums the output values of the transactions.
func (b *Batch) TotalOut() btcutil.Amount {
	var total btcutil.Amount
	for _, tx := range b.Txs {
		total += tx.TotalOut()
	}
	return total
}

// Refresh recomputes the header commitments from the transactions.
func (b *Batch) Refresh() {
	b.Header.MerkleRoot = MerkleRoot(b.Txs)
	b.Header.TotalOut = int64(b.TotalOut())
	b.Header.Checksum = b.Header.ComputeChecksum()
}

// Equal reports whether b and other hold the same header and the same
// transactions, in any order.
func (b *Batch) Equal(other *Batch) bool {
	if b.Header.MerkleRoot != other.Header.MerkleRoot ||
		b.Header.TotalOut != other.Header.TotalOut ||
		b.Header.Checksum != other.Header.Checksum ||
		len(b.Txs) != len(other.Txs) ||
		!equalStrings(b.Header.OriginMasterKeyIDs,
			other.Header.OriginMasterKeyIDs) ||
		!equalStrings(b.Header.DestinationMasterKeyIDs,
			other.Header.DestinationMasterKeyIDs) {

		return false
	}
	return MerkleRoot(b.Txs) == MerkleRoot(other.Txs)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SignResult is the outcome of signing one batch transaction.
type SignResult struct {
	// Hash is the transaction hash before signing.
	Hash chainhash.Hash
	Err  error
}

// Sign adds the signatures of master, the backup master key, to every
// input, deriving each input's key from its path.  A transaction that
// cannot be signed is left unchanged and signing goes on with the others.
// The header is recomputed afterwards.
func (b *Batch) Sign(master *hdkeychain.ExtendedKey) []SignResult {
	results := make([]SignResult, len(b.Txs))
	for i, tx := range b.Txs {
		results[i].Hash = tx.Hash()
		if err := signTx(tx, master); err != nil {
			log.Warnf("Could not sign tx %v, skipping: %v",
				results[i].Hash, err)
			results[i].Err = err
			continue
		}
		log.Infof("Signed tx %v", results[i].Hash)
	}
	b.Refresh()
	return results
}

func signTx(tx *Transaction, master *hdkeychain.ExtendedKey) error {
	keys := make([][]*btcec.PrivateKey, len(tx.InputPaths))
	for i, path := range tx.InputPaths {
		child, err := branch.DerivePath(master, path)
		if err != nil {
			return err
		}
		key, err := child.ECPrivKey()
		if err != nil {
			return fmt.Errorf("cannot obtain private key for %s: %w",
				path, err)
		}
		keys[i] = []*btcec.PrivateKey{key}
	}

	// Sign a copy so a failing input leaves the transaction untouched.
	signed := tx.Tx.Copy()
	if err := cosign.Sign(signed, keys, nil); err != nil {
		return err
	}
	tx.Tx = signed
	return nil
}
