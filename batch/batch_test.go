// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/msigrecovery/branch"
	"github.com/btcsuite/msigrecovery/chain"
	"github.com/btcsuite/msigrecovery/cosign"
	"github.com/stretchr/testify/require"
)

var testNet = &chaincfg.MainNetParams

func masterKey(t *testing.T, b byte) *hdkeychain.ExtendedKey {
	t.Helper()

	key, err := hdkeychain.NewMaster(
		bytes.Repeat([]byte{b}, hdkeychain.RecommendedSeedLen), testNet,
	)
	require.NoError(t, err)
	return key
}

func leafKey(t *testing.T, master *hdkeychain.ExtendedKey,
	path string) *btcec.PrivateKey {

	t.Helper()

	child, err := branch.DerivePath(master, path)
	require.NoError(t, err)
	key, err := child.ECPrivKey()
	require.NoError(t, err)
	return key
}

// sweepFixture is a 2-of-2 sweep between a local key and a backup key, both
// derived at the same leaf path, with the funding transaction.
type sweepFixture struct {
	local, backup *hdkeychain.ExtendedKey
	path          string
	redeemScript  []byte
	funding       *wire.MsgTx
	tx            *Transaction
}

func newSweepFixture(t *testing.T, account uint32,
	value int64) *sweepFixture {

	t.Helper()

	local, backup := masterKey(t, 1), masterKey(t, 2)
	path := branch.FullLeafPath(fmt.Sprint(account), branch.ChainPath(0, 0))

	var pks []*btcutil.AddressPubKey
	for _, master := range []*hdkeychain.ExtendedKey{local, backup} {
		pk, err := btcutil.NewAddressPubKey(
			leafKey(t, master, path).PubKey().SerializeCompressed(),
			testNet,
		)
		require.NoError(t, err)
		pks = append(pks, pk)
	}
	redeemScript, err := txscript.MultiSigScript(pks, 2)
	require.NoError(t, err)
	addr, err := btcutil.NewAddressScriptHash(redeemScript, testNet)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	funding := wire.NewMsgTx(wire.TxVersion)
	funding.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{byte(account)}, 0), nil, nil,
	))
	funding.AddTxOut(wire.NewTxOut(value, pkScript))
	fundingHash := funding.TxHash()

	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&fundingHash, 0), nil, nil))
	msgTx.AddTxOut(wire.NewTxOut(value-2000, []byte{txscript.OP_TRUE}))

	err = cosign.SignInput(msgTx, 0, []*btcec.PrivateKey{
		leafKey(t, local, path),
	}, redeemScript)
	require.NoError(t, err)

	tx, err := NewTransaction(msgTx, []*wire.TxOut{funding.TxOut[0]},
		[]string{path}, []string{path})
	require.NoError(t, err)

	return &sweepFixture{
		local:        local,
		backup:       backup,
		path:         path,
		redeemScript: redeemScript,
		funding:      funding,
		tx:           tx,
	}
}

func newTestBatch(t *testing.T, n int) (*Batch, []*sweepFixture) {
	t.Helper()

	fixtures := make([]*sweepFixture, n)
	txs := make([]*Transaction, n)
	for i := range fixtures {
		fixtures[i] = newSweepFixture(t, uint32(i), int64(100000*(i+1)))
		txs[i] = fixtures[i].tx
	}
	return New([]string{"xpubA", "xpubB"}, []string{"xpubC"}, txs), fixtures
}

// fakeProvider serves funding transactions and records relayed ones.
type fakeProvider struct {
	txs     map[chainhash.Hash]*wire.MsgTx
	sent    []chainhash.Hash
	failing map[chainhash.Hash]bool
}

func newFakeProvider(fixtures []*sweepFixture) *fakeProvider {
	p := &fakeProvider{
		txs:     make(map[chainhash.Hash]*wire.MsgTx),
		failing: make(map[chainhash.Hash]bool),
	}
	for _, f := range fixtures {
		p.txs[f.funding.TxHash()] = f.funding
	}
	return p
}

func (p *fakeProvider) BlockchainTip(context.Context) (int32, error) {
	return 1, nil
}

func (p *fakeProvider) GetTx(_ context.Context,
	hash chainhash.Hash) (*wire.MsgTx, error) {

	tx, ok := p.txs[hash]
	if !ok {
		return nil, errors.New("unknown tx")
	}
	return tx, nil
}

func (p *fakeProvider) SpendablesForAddress(context.Context,
	btcutil.Address) ([]chain.Utxo, error) {

	return nil, nil
}

func (p *fakeProvider) SendTx(_ context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	hash := tx.TxHash()
	if p.failing[hash] {
		return nil, errors.New("rejected")
	}
	p.sent = append(p.sent, hash)
	return &hash, nil
}

func TestMerkleRoot(t *testing.T) {
	t.Parallel()

	require.Equal(t, EmptyMerkleRoot, MerkleRoot(nil))
	require.Len(t, EmptyMerkleRoot, 64)

	b, _ := newTestBatch(t, 3)
	txs := b.Txs

	// A single transaction is its own root.
	require.Equal(t, txs[0].Hash().String(), MerkleRoot(txs[:1]))

	// Two transactions hash to the double SHA-256 of their sorted hashes.
	h0, h1 := txs[0].Hash(), txs[1].Hash()
	if bytes.Compare(h0[:], h1[:]) > 0 {
		h0, h1 = h1, h0
	}
	want := chainhash.DoubleHashH(append(h0[:], h1[:]...))
	require.Equal(t, want.String(), MerkleRoot(txs[:2]))

	// Any permutation gives the same root.
	root := MerkleRoot(txs)
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1},
		{2, 1, 0}}
	for _, perm := range perms {
		permuted := []*Transaction{txs[perm[0]], txs[perm[1]], txs[perm[2]]}
		require.Equal(t, root, MerkleRoot(permuted))
	}
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	b, _ := newTestBatch(t, 3)
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, b.WriteFile(path))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	require.True(t, b.Equal(loaded))
	require.Equal(t, b.Header, loaded.Header)
	require.Len(t, loaded.Txs, len(b.Txs))
	for i, tx := range b.Txs {
		want, err := tx.Serialize()
		require.NoError(t, err)
		got, err := loaded.Txs[i].Serialize()
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, tx.InputPaths, loaded.Txs[i].InputPaths)
		require.Equal(t, tx.OutputPaths, loaded.Txs[i].OutputPaths)
		require.Equal(t, tx.PrevOuts, loaded.Txs[i].PrevOuts)
	}

	// The wire format uses the documented field names.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, json.Valid(data))
	for _, field := range []string{"original_master_xpubs",
		"destination_master_xpubs", "merkle_root", "total_out",
		"checksum"} {

		require.Contains(t, string(data), `"`+field+`"`)
	}
	for _, field := range []string{"bytes", "input_paths", "output_paths"} {
		require.Contains(t, string(data), `"`+field+`"`)
	}

	_, err = Validate(context.Background(), loaded, nil)
	require.NoError(t, err)
}

func TestEmptyBatchFile(t *testing.T) {
	t.Parallel()

	b := New([]string{"a"}, []string{"b"}, nil)
	require.Equal(t, EmptyMerkleRoot, b.Header.MerkleRoot)

	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, b.WriteFile(path))
	loaded, err := ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, loaded.Txs)

	_, err = Validate(context.Background(), loaded, nil)
	require.NoError(t, err)
}

// TestValidateTamperedRoot edits the merkle root of a batch file by hand
// and checks the batch is rejected.
func TestValidateTamperedRoot(t *testing.T) {
	t.Parallel()

	b, fixtures := newTestBatch(t, 2)
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, b.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(b.Header.MerkleRoot),
		[]byte(EmptyMerkleRoot), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0600))

	loaded, err := ReadFile(path)
	require.NoError(t, err)

	_, err = Validate(context.Background(), loaded, nil)
	require.ErrorIs(t, err, ErrMerkleMismatch)

	provider := newFakeProvider(fixtures)
	_, err = Validate(context.Background(), loaded, provider)
	require.ErrorIs(t, err, ErrMerkleMismatch)
	require.Empty(t, provider.sent)
}

func TestValidateHeader(t *testing.T) {
	t.Parallel()

	b, _ := newTestBatch(t, 2)
	ctx := context.Background()

	b.Header.TotalOut++
	_, err := Validate(ctx, b, nil)
	require.ErrorIs(t, err, ErrTotalOutMismatch)

	b.Refresh()
	b.Header.OriginMasterKeyIDs = []string{"xpubEvil"}
	_, err = Validate(ctx, b, nil)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	b.Refresh()
	report, err := Validate(ctx, b, nil)
	require.NoError(t, err)
	require.False(t, report.Online)
	require.Len(t, report.Txs, 2)
	// Only the local key signed.
	require.Equal(t, 2, report.BadSignatures())
}

// TestHeaderCommitments checks what the header commits to: a recomputed
// checksum hides a header edit, and previous outputs are outside both the
// merkle root and the checksum.
func TestHeaderCommitments(t *testing.T) {
	t.Parallel()

	b, fixtures := newTestBatch(t, 2)
	ctx := context.Background()
	root := b.Header.MerkleRoot
	sum := b.Header.Checksum

	ids := b.Header.DestinationMasterKeyIDs
	b.Header.DestinationMasterKeyIDs = []string{"xpubOther"}
	_, err := Validate(ctx, b, nil)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	b.Header.Checksum = b.Header.ComputeChecksum()
	_, err = Validate(ctx, b, nil)
	require.NoError(t, err)
	require.Equal(t, root, b.Header.MerkleRoot)

	b.Header.DestinationMasterKeyIDs = ids
	b.Header.Checksum = sum
	prevOut := b.Txs[0].PrevOuts[0]
	b.Txs[0].PrevOuts[0] = wire.NewTxOut(prevOut.Value+1, prevOut.PkScript)
	require.Equal(t, root, MerkleRoot(b.Txs))
	require.Equal(t, sum, b.Header.ComputeChecksum())

	_, err = Validate(ctx, b, nil)
	require.NoError(t, err)
	_, err = Validate(ctx, b, newFakeProvider(fixtures))
	require.ErrorIs(t, err, ErrPrevOutMismatch)
}

func TestValidateOnline(t *testing.T) {
	t.Parallel()

	b, fixtures := newTestBatch(t, 2)
	provider := newFakeProvider(fixtures)
	ctx := context.Background()

	report, err := Validate(ctx, b, provider)
	require.NoError(t, err)
	require.True(t, report.Online)
	for i, txReport := range report.Txs {
		require.Equal(t, btcutil.Amount(2000), txReport.Fee)
		require.Equal(t, btcutil.Amount(100000*(i+1)), txReport.TotalIn)
		require.Greater(t, txReport.RecommendedFee, btcutil.Amount(0))
		require.Equal(t, 1, txReport.BadSignatures)
	}

	// A fee above the absolute ceiling and twice the recommended fee is
	// rejected.
	v := &Validator{
		Provider:       provider,
		FeePerKb:       1000,
		MaxAbsoluteFee: 1000,
	}
	_, err = v.Validate(ctx, b)
	require.ErrorIs(t, err, ErrExcessiveFee)

	// Exceeding only one of both limits is fine.
	v.MaxAbsoluteFee = 5000
	_, err = v.Validate(ctx, b)
	require.NoError(t, err)

	// Recorded previous outputs must match the chain.
	b.Txs[0].PrevOuts[0] = wire.NewTxOut(1, b.Txs[0].PrevOuts[0].PkScript)
	_, err = Validate(ctx, b, provider)
	require.ErrorIs(t, err, ErrPrevOutMismatch)
}

// TestSign checks that the backup key holder completes the signatures from
// the input paths alone.
func TestSign(t *testing.T) {
	t.Parallel()

	b, fixtures := newTestBatch(t, 3)
	before := b.Header.MerkleRoot

	// Break the second transaction's signature script.
	b.Txs[1].Tx.TxIn[0].SignatureScript = nil
	b.Refresh()

	results := b.Sign(fixtures[0].backup)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.True(t, cosign.IsError(results[1].Err,
		cosign.ErrMissingRedeemScript))
	require.NoError(t, results[2].Err)

	require.Zero(t, b.Txs[0].BadSignatureCount())
	require.Equal(t, 1, b.Txs[1].BadSignatureCount())
	require.Zero(t, b.Txs[2].BadSignatureCount())

	// The header follows the new signatures.
	require.NotEqual(t, before, b.Header.MerkleRoot)
	require.Equal(t, MerkleRoot(b.Txs), b.Header.MerkleRoot)

	// The unsignable transaction cannot even be sized.
	_, err := Validate(context.Background(), b, newFakeProvider(fixtures))
	require.ErrorIs(t, err, ErrMalformedTx)

	signed := New(b.Header.OriginMasterKeyIDs,
		b.Header.DestinationMasterKeyIDs,
		[]*Transaction{b.Txs[0], b.Txs[2]})
	report, err := Validate(context.Background(), signed,
		newFakeProvider(fixtures))
	require.NoError(t, err)
	require.Zero(t, report.BadSignatures())
}

func TestBroadcast(t *testing.T) {
	t.Parallel()

	b, fixtures := newTestBatch(t, 3)
	b.Sign(fixtures[0].backup)

	provider := newFakeProvider(fixtures)
	provider.failing[b.Txs[1].Hash()] = true

	results := Broadcast(context.Background(), b, provider)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
	require.Equal(t, b.Txs[1].Hash(), results[1].TxID)
	require.NotEmpty(t, results[1].Raw)
	require.Equal(t, []chainhash.Hash{b.Txs[0].Hash(), b.Txs[2].Hash()},
		provider.sent)
}

func TestTransactionDeserialize(t *testing.T) {
	t.Parallel()

	f := newSweepFixture(t, 0, 50000)

	// Without spent outputs.
	bare := &Transaction{Tx: f.tx.Tx}
	b, err := bare.Serialize()
	require.NoError(t, err)
	var decoded Transaction
	require.NoError(t, decoded.Deserialize(b))
	require.Nil(t, decoded.PrevOuts)
	require.Equal(t, f.tx.Hash(), decoded.Hash())

	_, ok := decoded.TotalIn()
	require.False(t, ok)
	// The spent script is recovered from the redeem script.
	require.Equal(t, 1, decoded.BadSignatureCount())

	// Truncated spent outputs are rejected.
	full, err := f.tx.Serialize()
	require.NoError(t, err)
	require.ErrorIs(t, decoded.Deserialize(full[:len(full)-1]),
		ErrMalformedTx)

	_, err = NewTransaction(f.tx.Tx, nil, nil, nil)
	require.ErrorIs(t, err, ErrMalformedTx)
}
