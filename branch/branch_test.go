// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package branch

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

const (
	seedA = "000102030405060708090a0b0c0d0e0f"
	seedB = "101112131415161718191a1b1c1d1e1f"
	seedC = "202122232425262728292a2b2c2d2e2f"
)

var testNet = &chaincfg.MainNetParams

// fakeOracle serves a single key for every keychain once the keychain has
// been created.
type fakeOracle struct {
	key     *hdkeychain.ExtendedKey
	known   bool
	gets    int
	creates []Registration
}

func (o *fakeOracle) Get(_ context.Context,
	_ []*hdkeychain.ExtendedKey) (*hdkeychain.ExtendedKey, error) {

	o.gets++
	if !o.known {
		return nil, newError(ErrUnknownKeychain, "http://oracle/", nil)
	}
	return o.key, nil
}

func (o *fakeOracle) Create(_ context.Context, _ []*hdkeychain.ExtendedKey,
	reg Registration) error {

	o.creates = append(o.creates, reg)
	o.known = true
	return nil
}

func localKey(t *testing.T, seedHex string) *LocalMasterKey {
	t.Helper()

	seed, err := hex.DecodeString(seedHex)
	require.NoError(t, err)
	key, err := LocalMasterKeyFromSeed(seed, testNet)
	require.NoError(t, err)
	return key
}

func remoteKey(t *testing.T, seedHex string) *RemoteMasterPubkey {
	t.Helper()

	key, err := NewRemoteMasterPubkey(localKey(t, seedHex).Key())
	require.NoError(t, err)
	return key
}

func newOracle(t *testing.T, known bool) *fakeOracle {
	t.Helper()

	pub, err := localKey(t, seedC).Key().Neuter()
	require.NoError(t, err)
	return &fakeOracle{key: pub, known: known}
}

// TestAccountDeterminism checks that deriving the same account twice yields
// identical keys and scripts.
func TestAccountDeterminism(t *testing.T) {
	t.Parallel()

	for _, template := range []Template{TemplateBIP32,
		TemplateBIP32Hardened} {

		template := template
		t.Run(template.String(), func(t *testing.T) {
			t.Parallel()

			sources := []KeySource{
				localKey(t, seedA), localKey(t, seedB),
				remoteKey(t, seedC),
			}
			b, err := New(sources, template, testNet)
			require.NoError(t, err)

			first, err := b.Account(context.Background(), 7)
			require.NoError(t, err)
			second, err := b.Account(context.Background(), 7)
			require.NoError(t, err)

			require.Equal(t, 2, first.ReqSigs)
			require.True(t, first.Sorted)

			firstKeys, err := first.PublicKeyStrings()
			require.NoError(t, err)
			secondKeys, err := second.PublicKeyStrings()
			require.NoError(t, err)
			require.Equal(t, firstKeys, secondKeys)

			for _, chain := range []uint32{ExternalChain, InternalChain} {
				a1, err := first.Address(chain, 3)
				require.NoError(t, err)
				a2, err := second.Address(chain, 3)
				require.NoError(t, err)
				require.Equal(t, a1.String(), a2.String())
			}

			other, err := b.Account(context.Background(), 8)
			require.NoError(t, err)
			a1, err := first.Address(ExternalChain, 0)
			require.NoError(t, err)
			a2, err := other.Address(ExternalChain, 0)
			require.NoError(t, err)
			require.NotEqual(t, a1.String(), a2.String())
		})
	}
}

func TestTemplateThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want int
	}{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {5, 4},
	}
	for _, test := range tests {
		require.Equal(t, test.want, TemplateBIP32.reqSigs(test.n))
	}
	require.Equal(t, 2, TemplateBitOasisV1.reqSigs(3))
}

func TestHardenedTemplate(t *testing.T) {
	t.Parallel()

	local := localKey(t, seedA)
	remote := remoteKey(t, seedB)
	b, err := New([]KeySource{local, remote}, TemplateBIP32Hardened, testNet)
	require.NoError(t, err)

	acct, err := b.Account(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, uint32(hdkeychain.HardenedKeyStart+2), acct.Keys[0].ChildIndex())
	require.True(t, acct.Keys[0].IsPrivate())
	require.Equal(t, uint32(2), acct.Keys[1].ChildIndex())
	require.False(t, acct.Keys[1].IsPrivate())

	privKeys, err := acct.PrivKeys(ExternalChain, 0)
	require.NoError(t, err)
	require.Len(t, privKeys, 1)
}

func TestPubKeysSorted(t *testing.T) {
	t.Parallel()

	b, err := New([]KeySource{
		remoteKey(t, seedA), remoteKey(t, seedB), remoteKey(t, seedC),
	}, TemplateBIP32, testNet)
	require.NoError(t, err)

	acct, err := b.Account(context.Background(), 0)
	require.NoError(t, err)
	for leaf := uint32(0); leaf < 5; leaf++ {
		pks, err := acct.PubKeys(ExternalChain, leaf)
		require.NoError(t, err)
		for i := 1; i < len(pks); i++ {
			require.Negative(t, bytes.Compare(
				pks[i-1].ScriptAddress(), pks[i].ScriptAddress(),
			))
		}
	}
}

func TestBranchID(t *testing.T) {
	t.Parallel()

	a, b := localKey(t, seedA), remoteKey(t, seedB)

	ab, err := New([]KeySource{a, b}, TemplateBIP32, testNet)
	require.NoError(t, err)
	ba, err := New([]KeySource{b, a}, TemplateBIP32, testNet)
	require.NoError(t, err)
	require.Equal(t, ab.ID(), ba.ID())

	ids := []string{a.ID(), b.ID()}
	if ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	want := ids[0][len(ids[0])-10:] + "_" + ids[1][len(ids[1])-10:]
	require.Equal(t, want, ab.ID())

	withOracle, err := New([]KeySource{
		a, b, NewRemoteOracleKeySource("http://oracle/", newOracle(t, true), nil),
	}, TemplateBIP32, testNet)
	require.NoError(t, err)
	require.Contains(t, withOracle.ID(), "Oracle")
	require.True(t, withOracle.NeedsOracle())
	require.False(t, ab.NeedsOracle())
	require.Equal(t, []string{a.ID(), b.ID(), "Oracle"},
		withOracle.MasterKeyNames())
	require.Equal(t, "12", withOracle.BackupAccountPath(12))
}

func TestOracleMustBeLast(t *testing.T) {
	t.Parallel()

	oracle := NewRemoteOracleKeySource("http://oracle/", newOracle(t, true),
		nil)
	_, err := New([]KeySource{oracle, localKey(t, seedA)}, TemplateBIP32,
		testNet)
	require.True(t, IsError(err, ErrOracleNotLast))

	cfg := &ParseConfig{
		Net: testNet,
		NewOracle: func(string) (Oracle, error) {
			return newOracle(t, true), nil
		},
	}
	_, err = ParseKeySources("https://oracle.example/,"+seedA, cfg)
	require.True(t, IsError(err, ErrOracleNotLast))

	sources, err := ParseKeySources(seedA+",https://oracle.example/", cfg)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.IsType(t, &RemoteOracleKeySource{}, sources[1])
}

func TestOracleRegistration(t *testing.T) {
	t.Parallel()

	regs := &Registrations{
		Manager:    "manager",
		Parameters: []byte(`{"levels":[]}`),
		PersonalInfo: map[string]map[string]string{
			"0": {"email": "a@example.com"},
		},
	}
	resolved := []*hdkeychain.ExtendedKey{localKey(t, seedA).Key()}
	ctx := context.Background()

	// No registrations: the unknown keychain error propagates.
	oracle := newOracle(t, false)
	source := NewRemoteOracleKeySource("http://oracle/", oracle, nil)
	_, err := source.Get(ctx, 0, resolved)
	require.True(t, IsError(err, ErrUnknownKeychain))
	require.Empty(t, oracle.creates)

	// Registered account: created then fetched again.
	oracle = newOracle(t, false)
	source = NewRemoteOracleKeySource("http://oracle/", oracle, regs)
	key, err := source.Get(ctx, 0, resolved)
	require.NoError(t, err)
	require.Equal(t, oracle.key.String(), key.String())
	require.Len(t, oracle.creates, 1)
	require.Equal(t, "a@example.com", oracle.creates[0].PersonalInfo["email"])
	require.Equal(t, 2, oracle.gets)

	// Unregistered account index.
	oracle = newOracle(t, false)
	source = NewRemoteOracleKeySource("http://oracle/", oracle, regs)
	_, err = source.Get(ctx, 1, resolved)
	require.True(t, IsError(err, ErrMissingRegistration))
}

func TestBitOasisV1(t *testing.T) {
	t.Parallel()

	local := localKey(t, seedA)
	backup := remoteKey(t, seedB)
	oracle := NewRemoteOracleKeySource("http://oracle/", newOracle(t, true),
		nil)

	_, err := New([]KeySource{local, backup}, TemplateBitOasisV1, testNet)
	require.True(t, IsError(err, ErrInvalidTemplate))

	b, err := New([]KeySource{local, backup, oracle}, TemplateBitOasisV1,
		testNet)
	require.NoError(t, err)

	acct, err := b.Account(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 2, acct.ReqSigs)
	require.False(t, acct.Sorted)

	require.True(t, acct.Keys[0].IsPrivate())
	require.Equal(t, uint32(hdkeychain.HardenedKeyStart+3), acct.Keys[0].ChildIndex())
	require.Zero(t, acct.Keys[0].ParentFingerprint())
	require.Equal(t, uint32(0), acct.Keys[1].ChildIndex())
	require.Zero(t, acct.Keys[1].ParentFingerprint())

	// Re-serialization keeps the key material.
	backupAcct, err := backup.Account(3)
	require.NoError(t, err)
	want, err := backupAcct.ECPubKey()
	require.NoError(t, err)
	got, err := acct.Keys[1].ECPubKey()
	require.NoError(t, err)
	require.True(t, want.IsEqual(got))

	// Unsorted keys keep member order.
	pks, err := acct.PubKeys(ExternalChain, 0)
	require.NoError(t, err)
	leaf, err := backupAcct.Derive(0)
	require.NoError(t, err)
	leaf, err = leaf.Derive(0)
	require.NoError(t, err)
	leafPub, err := leaf.ECPubKey()
	require.NoError(t, err)
	require.True(t, leafPub.IsEqual(pks[1].PubKey()))
}

func TestRestoreAccount(t *testing.T) {
	t.Parallel()

	oracle := newOracle(t, true)
	b, err := New([]KeySource{
		localKey(t, seedA), remoteKey(t, seedB),
		NewRemoteOracleKeySource("http://oracle/", oracle, nil),
	}, TemplateBIP32, testNet)
	require.NoError(t, err)

	acct, err := b.Account(context.Background(), 4)
	require.NoError(t, err)
	pubKeys, err := acct.PublicKeyStrings()
	require.NoError(t, err)
	gets := oracle.gets

	restored, err := b.RestoreAccount(4, pubKeys)
	require.NoError(t, err)
	require.Equal(t, gets, oracle.gets, "restore must not query the oracle")

	want, err := acct.Address(InternalChain, 2)
	require.NoError(t, err)
	got, err := restored.Address(InternalChain, 2)
	require.NoError(t, err)
	require.Equal(t, want.String(), got.String())

	privKeys, err := restored.PrivKeys(InternalChain, 2)
	require.NoError(t, err)
	require.Len(t, privKeys, 1)

	// Keys recorded for another account do not match.
	other, err := b.Account(context.Background(), 5)
	require.NoError(t, err)
	otherKeys, err := other.PublicKeyStrings()
	require.NoError(t, err)
	_, err = b.RestoreAccount(4, otherKeys)
	require.True(t, IsError(err, ErrKeyMismatch))

	_, err = b.RestoreAccount(4, pubKeys[:2])
	require.True(t, IsError(err, ErrKeyMismatch))
}

// TestLocalAccountRange checks that hardened account indexes which would
// wrap into the non-hardened range are refused.
func TestLocalAccountRange(t *testing.T) {
	t.Parallel()

	local := localKey(t, seedA)

	last, err := local.Account(hdkeychain.HardenedKeyStart-1, true)
	require.NoError(t, err)
	require.Equal(t, uint32(1<<32-1), last.ChildIndex())

	for _, index := range []uint32{
		hdkeychain.HardenedKeyStart, hdkeychain.HardenedKeyStart + 5,
	} {
		_, err := local.Account(index, true)
		require.True(t, IsError(err, ErrInvalidPath), "%v", err)
	}

	plain, err := local.Account(hdkeychain.HardenedKeyStart+5, false)
	require.NoError(t, err)
	require.Equal(t, uint32(hdkeychain.HardenedKeyStart+5),
		plain.ChildIndex())
}

func TestParseKeySource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xpub := remoteKey(t, seedB).ID()
	xprv := localKey(t, seedA).Key().String()

	tablePath := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(
		tablePath, []byte(`{"0": "`+xpub+`", "5": "`+xpub+`"}`), 0600,
	))

	cfg := &ParseConfig{Net: testNet}

	source, err := ParseKeySource(seedA, cfg)
	require.NoError(t, err)
	require.IsType(t, &LocalMasterKey{}, source)

	source, err = ParseKeySource(xprv, cfg)
	require.NoError(t, err)
	require.IsType(t, &LocalMasterKey{}, source)
	require.Equal(t, localKey(t, seedA).ID(), source.ID())

	source, err = ParseKeySource(xpub, cfg)
	require.NoError(t, err)
	require.IsType(t, &RemoteMasterPubkey{}, source)

	source, err = ParseKeySource(tablePath, cfg)
	require.NoError(t, err)
	table := source.(*AccountPubkeyTable)
	_, err = table.Get(5)
	require.NoError(t, err)
	_, err = table.Get(1)
	require.True(t, IsError(err, ErrUnknownAccountIndex))

	_, err = ParseKeySource("http://oracle/", cfg)
	require.True(t, IsError(err, ErrInvalidKeySource))

	_, err = ParseKeySource("not a key", cfg)
	require.True(t, IsError(err, ErrInvalidKeySource))

	_, err = ParseKeySource(xpub, &ParseConfig{
		Net: &chaincfg.TestNet3Params,
	})
	require.True(t, IsError(err, ErrInvalidKeySource))
}

func TestDerivePath(t *testing.T) {
	t.Parallel()

	master := localKey(t, seedA).Key()

	want, err := master.Derive(3)
	require.NoError(t, err)
	want, err = want.Derive(1)
	require.NoError(t, err)
	want, err = want.Derive(4)
	require.NoError(t, err)

	got, err := DerivePath(master, FullLeafPath("3", ChainPath(1, 4)))
	require.NoError(t, err)
	require.Equal(t, want.String(), got.String())
	require.Equal(t, "/3/1/4", FullLeafPath("3", ChainPath(1, 4)))

	hardened, err := DerivePath(master, "0'/1h")
	require.NoError(t, err)
	require.Equal(t, uint32(hdkeychain.HardenedKeyStart+1), hardened.ChildIndex())

	same, err := DerivePath(master, "/")
	require.NoError(t, err)
	require.Equal(t, master.String(), same.String())

	_, err = DerivePath(master, "/a/1")
	require.True(t, IsError(err, ErrInvalidPath))
}

func TestParseTemplate(t *testing.T) {
	t.Parallel()

	for _, template := range []Template{TemplateBIP32,
		TemplateBIP32Hardened, TemplateBitOasisV1} {

		parsed, err := ParseTemplate(template.String())
		require.NoError(t, err)
		require.Equal(t, template, parsed)
	}
	_, err := ParseTemplate("bip44")
	require.True(t, IsError(err, ErrInvalidTemplate))
}
