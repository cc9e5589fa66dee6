// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package branch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// idFingerprintLen is the number of trailing characters of each source
// identifier kept in a branch id.
const idFingerprintLen = 10

// AccountFactory builds the accounts of one set of key sources.  It holds
// everything account derivation depends on so it can be passed around in
// place of the branch.
type AccountFactory struct {
	sources  []KeySource
	template Template
	net      *chaincfg.Params
}

// Account derives the account with the given index.  Results are not
// memoized.
func (f AccountFactory) Account(ctx context.Context,
	index uint32) (*MultisigAccount, error) {

	return f.template.Account(ctx, f.sources, index, f.net)
}

// Branch is an ordered list of key sources combined by an account template.
// A Branch is immutable once created.
type Branch struct {
	factory AccountFactory
	id      string
}

// New creates a branch, checking that an oracle source, if any, comes last.
func New(sources []KeySource, template Template,
	net *chaincfg.Params) (*Branch, error) {

	if err := template.checkSources(sources); err != nil {
		return nil, err
	}
	for i, s := range sources {
		if _, ok := s.(*RemoteOracleKeySource); ok && i != len(sources)-1 {
			return nil, newError(ErrOracleNotLast,
				"oracle has to be the last key source", nil)
		}
	}

	srcs := make([]KeySource, len(sources))
	copy(srcs, sources)

	return &Branch{
		factory: AccountFactory{
			sources:  srcs,
			template: template,
			net:      net,
		},
		id: branchID(srcs),
	}, nil
}

func branchID(sources []KeySource) string {
	ids := make([]string, len(sources))
	for i, s := range sources {
		ids[i] = s.ID()
	}
	sort.Strings(ids)
	for i, id := range ids {
		if len(id) > idFingerprintLen {
			ids[i] = id[len(id)-idFingerprintLen:]
		}
	}
	return strings.Join(ids, "_")
}

// ID returns the identity of the branch.  It does not depend on the order
// of the sources.
func (b *Branch) ID() string {
	return b.id
}

// MasterKeyNames returns the public identifiers of the sources, in source
// order.
func (b *Branch) MasterKeyNames() []string {
	names := make([]string, len(b.factory.sources))
	for i, s := range b.factory.sources {
		names[i] = s.ID()
	}
	return names
}

// NeedsOracle returns whether one of the sources is an oracle.
func (b *Branch) NeedsOracle() bool {
	for _, s := range b.factory.sources {
		if _, ok := s.(*RemoteOracleKeySource); ok {
			return true
		}
	}
	return false
}

// Template returns the account template of the branch.
func (b *Branch) Template() Template {
	return b.factory.template
}

// Net returns the network of the branch.
func (b *Branch) Net() *chaincfg.Params {
	return b.factory.net
}

// Factory returns the account factory of the branch.
func (b *Branch) Factory() AccountFactory {
	return b.factory
}

// Account derives the account with the given index.
func (b *Branch) Account(ctx context.Context,
	index uint32) (*MultisigAccount, error) {

	return b.factory.Account(ctx, index)
}

// BackupAccountPath returns the path of the given account relative to a
// backup master key.
func (b *Branch) BackupAccountPath(index uint32) string {
	return fmt.Sprintf(b.factory.template.BackupAccountPathTemplate(), index)
}

// RestoreAccount rebuilds an account from the extended public keys recorded
// for it by an earlier derivation, without network access.  The private keys
// of local sources are derived again and checked against the recorded keys.
func (b *Branch) RestoreAccount(index uint32,
	pubKeys []string) (*MultisigAccount, error) {

	sources := b.factory.sources
	if len(pubKeys) != len(sources) {
		str := fmt.Sprintf("account %d has %d recorded keys, branch has "+
			"%d sources", index, len(pubKeys), len(sources))
		return nil, newError(ErrKeyMismatch, str, nil)
	}

	t := b.factory.template
	keys := make([]*hdkeychain.ExtendedKey, len(sources))
	for i, s := range pubKeys {
		recorded, err := hdkeychain.NewKeyFromString(s)
		if err != nil {
			str := fmt.Sprintf("invalid recorded key %d of account %d",
				i, index)
			return nil, newError(ErrKeyChain, str, err)
		}
		keys[i] = recorded

		if _, ok := sources[i].(*LocalMasterKey); !ok {
			continue
		}
		key, err := t.memberKey(i, sources[i], index, b.factory.net)
		if err != nil {
			return nil, err
		}
		pub, err := key.Neuter()
		if err != nil {
			return nil, newError(ErrKeyChain, "cannot neuter key", err)
		}
		if pub.String() != s {
			str := fmt.Sprintf("member %d of account %d does not match "+
				"its recorded key", i, index)
			return nil, newError(ErrKeyMismatch, str, nil)
		}
		keys[i] = key
	}

	return NewMultisigAccount(
		index, keys, t.reqSigs(len(keys)), t.sorted(), b.factory.net,
	)
}
