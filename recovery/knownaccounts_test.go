// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package recovery

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestParseKnownAccounts(t *testing.T) {
	t.Parallel()

	accounts, err := ParseKnownAccounts([]byte(`{
		"3": {"external_leafs": [0, 1, 2], "internal_leafs": [0]},
		"0": null,
		"1": {"external_leafs": {"4": "1Addr"}, "internal_leafs": {}},
		"2": {"external_leafs": [5]}
	}`))
	require.NoError(t, err)
	require.Len(t, accounts, 4)

	for i, account := range accounts {
		require.Equal(t, uint32(i), account.Index)
	}

	require.True(t, accounts[0].External.IsNone())
	require.True(t, accounts[0].Internal.IsNone())

	require.Equal(t, LeafSet{4: "1Addr"},
		accounts[1].External.UnwrapOr(nil))
	require.Equal(t, LeafSet{}, accounts[1].Internal.UnwrapOr(nil))

	// Leaves are only used when both chains are listed.
	require.True(t, accounts[2].External.IsNone())

	external := accounts[3].External.UnwrapOr(nil)
	require.Equal(t, []uint32{0, 1, 2}, external.Indexes())
	require.Equal(t, LeafSet{0: ""}, accounts[3].Internal.UnwrapOr(nil))

	for _, bad := range []string{
		`[]`,
		`{"x": null}`,
		`{"0": {"external_leafs": "0", "internal_leafs": []}}`,
		`{"0": {"external_leafs": {"a": ""}, "internal_leafs": []}}`,
	} {
		_, err := ParseKnownAccounts([]byte(bad))
		require.Error(t, err, bad)
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	t.Parallel()

	origin := &originRecord{
		Found:   true,
		PubKeys: []string{"xpubA", "xpubB"},
		Balance: 150000,
		Leaves: []leafRecord{
			{Chain: 0, Index: 0, Address: "3Addr0", Balance: 100000},
			{Chain: 1, Index: 7, Address: "3Addr1", Balance: 50000},
		},
	}
	b, err := origin.encode()
	require.NoError(t, err)
	decoded, err := decodeOriginRecord(b)
	require.NoError(t, err)
	require.Equal(t, origin, decoded)

	b, err = (&originRecord{}).encode()
	require.NoError(t, err)
	decoded, err = decodeOriginRecord(b)
	require.NoError(t, err)
	require.False(t, decoded.Found)
	require.Empty(t, decoded.Leaves)

	dest := &destinationRecord{
		PubKeys: []string{"xpubC"},
		Address: "3Dest",
		Path:    "/4/0/0",
	}
	b, err = dest.encode()
	require.NoError(t, err)
	decodedDest, err := decodeDestinationRecord(b)
	require.NoError(t, err)
	require.Equal(t, dest, decodedDest)

	b, err = (&txRecord{Balance: 1000, Fee: 3000}).encode()
	require.NoError(t, err)
	decodedTx, err := decodeTxRecord(b)
	require.NoError(t, err)
	require.Nil(t, decodedTx.Tx)
	require.Equal(t, btcutil.Amount(1000), decodedTx.Balance)

	_, err = decodeOriginRecord([]byte{0xff})
	require.Error(t, err)
}
