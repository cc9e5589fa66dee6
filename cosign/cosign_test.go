// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cosign

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const inputAmount = 100000

func privKey(b byte) *btcec.PrivateKey {
	key, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{b}, 32))
	return key
}

// fixture is a 2-of-3 P2SH output with keys A, B, C in that script order,
// and a transaction spending it.
type fixture struct {
	keys         []*btcec.PrivateKey
	redeemScript []byte
	pkScript     []byte
	tx           *wire.MsgTx
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	keys := []*btcec.PrivateKey{privKey(1), privKey(2), privKey(3)}
	pks := make([]*btcutil.AddressPubKey, len(keys))
	for i, key := range keys {
		var err error
		pks[i], err = btcutil.NewAddressPubKey(
			key.PubKey().SerializeCompressed(), &chaincfg.MainNetParams,
		)
		require.NoError(t, err)
	}
	redeemScript, err := txscript.MultiSigScript(pks, 2)
	require.NoError(t, err)
	addr, err := btcutil.NewAddressScriptHash(redeemScript,
		&chaincfg.MainNetParams)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{7}, 0), nil,
		nil))
	tx.AddTxOut(wire.NewTxOut(inputAmount-1000, []byte{txscript.OP_TRUE}))

	return &fixture{
		keys:         keys,
		redeemScript: redeemScript,
		pkScript:     pkScript,
		tx:           tx,
	}
}

func (f *fixture) sig(t *testing.T, key *btcec.PrivateKey) []byte {
	t.Helper()

	sig, err := txscript.RawTxInSignature(
		f.tx, 0, f.redeemScript, txscript.SigHashAll, key,
	)
	require.NoError(t, err)
	return sig
}

func (f *fixture) execute(t *testing.T) error {
	t.Helper()

	fetcher := txscript.NewCannedPrevOutputFetcher(f.pkScript, inputAmount)
	vm, err := txscript.NewEngine(
		f.pkScript, f.tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(f.tx, fetcher), inputAmount, fetcher,
	)
	require.NoError(t, err)
	return vm.Execute()
}

// TestOrderSignatures checks that signatures given as [sig_B, sig_A] are
// put in script order [sig_A, sig_B].
func TestOrderSignatures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sigA, sigB := f.sig(t, f.keys[0]), f.sig(t, f.keys[1])

	ordered, err := OrderSignatures(f.tx, 0, f.redeemScript,
		[][]byte{sigB, sigA})
	require.NoError(t, err)
	require.Equal(t, [][]byte{sigA, sigB}, ordered)

	// A signature of another input does not match any key.
	other := newFixture(t)
	other.tx.TxIn[0].PreviousOutPoint.Index = 1
	_, err = OrderSignatures(f.tx, 0, f.redeemScript,
		[][]byte{sigA, other.sig(t, f.keys[1])})
	require.True(t, IsError(err, ErrSignatureOrder))
}

// TestSequentialSigning signs with B first then with A, each time from the
// script left on the input, and checks the result spends the output.
func TestSequentialSigning(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	err := SignInput(f.tx, 0, []*btcec.PrivateKey{f.keys[1]}, f.redeemScript)
	require.NoError(t, err)

	present, reqSigs, err := SignatureCount(f.tx.TxIn[0].SignatureScript)
	require.NoError(t, err)
	require.Equal(t, 1, present)
	require.Equal(t, 2, reqSigs)
	require.Error(t, f.execute(t))

	// The second signer only has the partial script.
	err = Sign(f.tx, [][]*btcec.PrivateKey{{f.keys[0]}}, nil)
	require.NoError(t, err)

	parsed, err := ParseSigScript(f.tx.TxIn[0].SignatureScript)
	require.NoError(t, err)
	require.Equal(t, f.redeemScript, parsed.RedeemScript)
	require.Equal(t, [][]byte{f.sig(t, f.keys[0]), f.sig(t, f.keys[1])},
		parsed.Sigs)
	require.NoError(t, f.execute(t))

	// Signing again changes nothing.
	before := append([]byte(nil), f.tx.TxIn[0].SignatureScript...)
	err = SignInput(f.tx, 0, []*btcec.PrivateKey{f.keys[0]}, nil)
	require.NoError(t, err)
	require.Equal(t, before, f.tx.TxIn[0].SignatureScript)
}

// TestPartialScriptKept checks that signing adds nothing to a partial
// script already holding the signer's signature, whatever its layout.
func TestPartialScriptKept(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	partial, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddOp(txscript.OP_0).
		AddData(f.sig(t, f.keys[1])).
		AddData(f.redeemScript).
		Script()
	require.NoError(t, err)
	f.tx.TxIn[0].SignatureScript = partial

	err = SignInput(f.tx, 0, []*btcec.PrivateKey{f.keys[1]}, nil)
	require.NoError(t, err)
	require.Equal(t, partial, f.tx.TxIn[0].SignatureScript)

	err = Sign(f.tx, [][]*btcec.PrivateKey{{f.keys[1]}}, nil)
	require.NoError(t, err)
	require.Equal(t, partial, f.tx.TxIn[0].SignatureScript)

	// A new signature rebuilds the script in key order.
	err = SignInput(f.tx, 0, []*btcec.PrivateKey{f.keys[0]}, nil)
	require.NoError(t, err)
	parsed, err := ParseSigScript(f.tx.TxIn[0].SignatureScript)
	require.NoError(t, err)
	require.Equal(t, [][]byte{f.sig(t, f.keys[0]), f.sig(t, f.keys[1])},
		parsed.Sigs)
	require.NoError(t, f.execute(t))
}

func TestExtraSignaturesDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := SignInput(f.tx, 0, []*btcec.PrivateKey{
		f.keys[2], f.keys[1], f.keys[0],
	}, f.redeemScript)
	require.NoError(t, err)

	parsed, err := ParseSigScript(f.tx.TxIn[0].SignatureScript)
	require.NoError(t, err)
	require.Len(t, parsed.Sigs, 2)
	require.NoError(t, f.execute(t))
}

func TestSignErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	err := SignInput(f.tx, 0, []*btcec.PrivateKey{f.keys[0]}, nil)
	require.True(t, IsError(err, ErrMissingRedeemScript))

	err = SignInput(f.tx, 0, []*btcec.PrivateKey{privKey(9)},
		f.redeemScript)
	require.True(t, IsError(err, ErrUnknownKey))

	err = SignInput(f.tx, 1, []*btcec.PrivateKey{f.keys[0]},
		f.redeemScript)
	require.True(t, IsError(err, ErrInputIndex))

	err = Sign(f.tx, nil, nil)
	require.True(t, IsError(err, ErrInputIndex))

	err = SignInput(f.tx, 0, []*btcec.PrivateKey{f.keys[0]},
		[]byte{txscript.OP_TRUE})
	require.True(t, IsError(err, ErrInvalidRedeemScript))

	// A foreign signature already on the input makes ordering fail.
	other := newFixture(t)
	other.tx.TxIn[0].PreviousOutPoint.Index = 1
	script, err := buildSigScript([][]byte{other.sig(t, f.keys[0])},
		f.redeemScript)
	require.NoError(t, err)
	f.tx.TxIn[0].SignatureScript = script
	err = SignInput(f.tx, 0, []*btcec.PrivateKey{f.keys[1]}, nil)
	require.True(t, IsError(err, ErrSignatureOrder))
}

func TestErrorCodeStringer(t *testing.T) {
	t.Parallel()

	for code := ErrorCode(0); code < lastErr; code++ {
		require.NotContains(t, code.String(), "Unknown")
	}
	require.Equal(t, "Unknown ErrorCode (65535)", ErrorCode(0xffff).String())
}

func TestEstimateSignedSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	unsigned, err := EstimateSignedSize(f.tx, [][]byte{f.redeemScript})
	require.NoError(t, err)

	require.NoError(t, Sign(f.tx, [][]*btcec.PrivateKey{
		{f.keys[0], f.keys[2]},
	}, [][]byte{f.redeemScript}))
	require.NoError(t, f.execute(t))

	// The estimate is an upper bound of the real size, and does not
	// depend on the signatures present.
	require.GreaterOrEqual(t, unsigned, f.tx.SerializeSize())
	require.LessOrEqual(t, unsigned-f.tx.SerializeSize(), 8)

	signed, err := EstimateSignedSize(f.tx, nil)
	require.NoError(t, err)
	require.Equal(t, unsigned, signed)

	_, err = EstimateSignedSize(wire.NewMsgTx(wire.TxVersion), [][]byte{nil})
	require.True(t, IsError(err, ErrInputIndex))
}
