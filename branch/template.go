// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package branch

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// Template is an account layout: how member account keys are derived from
// the key sources, the threshold, and the redeem script key order.
type Template uint8

const (
	// TemplateBIP32 derives non-hardened account keys from every source.
	TemplateBIP32 Template = iota

	// TemplateBIP32Hardened derives hardened account keys from sources
	// holding private material and non-hardened ones from the others.
	TemplateBIP32Hardened

	// TemplateBitOasisV1 is the legacy 2-of-3 layout: a hardened local
	// key, a non-hardened backup key and an oracle key, unsorted.
	TemplateBitOasisV1
)

// backupAccountPathTemplate is the path, relative to a backup master key,
// of the account with a given index.  The backup (third party) key is never
// hardened, even when the local key is, so it is the same for every
// template.
const backupAccountPathTemplate = "%d"

var templateNames = map[Template]string{
	TemplateBIP32:         "bip32",
	TemplateBIP32Hardened: "bip32_hardened",
	TemplateBitOasisV1:    "bitoasis_v1",
}

// String returns the template name as accepted by ParseTemplate.
func (t Template) String() string {
	if s, ok := templateNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Template(%d)", uint8(t))
}

// ParseTemplate returns the template with the given name.
func ParseTemplate(name string) (Template, error) {
	for t, s := range templateNames {
		if s == name {
			return t, nil
		}
	}
	str := fmt.Sprintf("unknown account template %q", name)
	return 0, newError(ErrInvalidTemplate, str, nil)
}

// BackupAccountPathTemplate returns the format string of backup account
// paths.
func (t Template) BackupAccountPathTemplate() string {
	return backupAccountPathTemplate
}

// reqSigs returns the threshold of accounts with n members.
func (t Template) reqSigs(n int) int {
	switch {
	case t == TemplateBitOasisV1:
		return 2
	case n < 3:
		return n
	default:
		return n - 1
	}
}

// sorted returns whether leaf keys are sorted in redeem scripts.
func (t Template) sorted() bool {
	return t != TemplateBitOasisV1
}

// Account derives the multisig account with the given index from the
// sources.  Identical inputs always yield identical accounts; the only
// network access is the one of an oracle source.
func (t Template) Account(ctx context.Context, sources []KeySource,
	index uint32, net *chaincfg.Params) (*MultisigAccount, error) {

	if err := t.checkSources(sources); err != nil {
		return nil, err
	}

	keys := make([]*hdkeychain.ExtendedKey, 0, len(sources))
	for pos, source := range sources {
		var (
			key *hdkeychain.ExtendedKey
			err error
		)
		switch s := source.(type) {
		case *RemoteOracleKeySource:
			if pos != len(sources)-1 {
				return nil, newError(ErrOracleNotLast,
					"oracle has to be the last key source", nil)
			}
			key, err = s.Get(ctx, index, keys)

		default:
			key, err = t.memberKey(pos, source, index, net)
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return NewMultisigAccount(
		index, keys, t.reqSigs(len(keys)), t.sorted(), net,
	)
}

// memberKey derives the account key of a source that does not need network
// access.
func (t Template) memberKey(pos int, source KeySource, index uint32,
	net *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {

	var (
		key *hdkeychain.ExtendedKey
		err error
	)
	switch s := source.(type) {
	case *LocalMasterKey:
		hardened := t == TemplateBIP32Hardened ||
			(t == TemplateBitOasisV1 && pos == 0)
		key, err = s.Account(index, hardened && s.key.IsPrivate())

	case *RemoteMasterPubkey:
		key, err = s.Account(index)

	case *AccountPubkeyTable:
		key, err = s.Get(index)

	case *RemoteOracleKeySource:
		return nil, newError(ErrUnknownSourceKind,
			"oracle keys cannot be derived offline", nil)

	default:
		str := fmt.Sprintf("unknown account key source %T", source)
		return nil, newError(ErrUnknownSourceKind, str, nil)
	}
	if err != nil {
		return nil, err
	}

	if t == TemplateBitOasisV1 && pos < 2 {
		return toLegacy(key, pos == 1, net)
	}
	return key, nil
}

// checkSources validates the source list against the template.
func (t Template) checkSources(sources []KeySource) error {
	if len(sources) == 0 {
		return newError(ErrInvalidTemplate, "no key sources", nil)
	}
	if _, ok := templateNames[t]; !ok {
		return newError(ErrInvalidTemplate, t.String(), nil)
	}
	if t == TemplateBitOasisV1 && len(sources) != 3 {
		str := fmt.Sprintf("%v needs 3 key sources, got %d", t,
			len(sources))
		return newError(ErrInvalidTemplate, str, nil)
	}
	return nil
}

// toLegacy re-serializes an account key the way legacy accounts recorded
// them: no parent fingerprint, and child number zero for the backup key.
// The public key and chain code, and so every derived leaf, are unchanged.
func toLegacy(key *hdkeychain.ExtendedKey, isBackupKey bool,
	net *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {

	var (
		version []byte
		keyData []byte
	)
	if key.IsPrivate() {
		privKey, err := key.ECPrivKey()
		if err != nil {
			return nil, newError(ErrKeyChain, "cannot obtain private key",
				err)
		}
		version = net.HDPrivateKeyID[:]
		keyData = privKey.Serialize()
	} else {
		pubKey, err := key.ECPubKey()
		if err != nil {
			return nil, newError(ErrKeyChain, "cannot obtain public key",
				err)
		}
		version = net.HDPublicKeyID[:]
		keyData = pubKey.SerializeCompressed()
	}

	childNum := key.ChildIndex()
	if isBackupKey {
		childNum = 0
	}
	return hdkeychain.NewExtendedKey(
		version, keyData, key.ChainCode(), []byte{0, 0, 0, 0},
		key.Depth(), childNum, key.IsPrivate(),
	), nil
}
