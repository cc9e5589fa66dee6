// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package branch

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// ExternalChain is the receiving chain of an account.
	ExternalChain uint32 = 0

	// InternalChain is the change chain of an account.
	InternalChain uint32 = 1
)

// MultisigAccount describes one multisig account of a branch: the ordered
// member account keys, of which some may carry private material, and the
// number of signatures required to spend from its addresses.  A
// MultisigAccount is not safe for concurrent use since deriving from a
// private member key caches the key's public key.
type MultisigAccount struct {
	Index   uint32
	Keys    []*hdkeychain.ExtendedKey
	ReqSigs int

	// Sorted tells whether leaf public keys are sorted into canonical
	// order in the redeem scripts rather than kept in member order.
	Sorted bool

	net *chaincfg.Params
}

// NewMultisigAccount creates an account descriptor, checking that the
// threshold can be met by the given keys.
func NewMultisigAccount(index uint32, keys []*hdkeychain.ExtendedKey,
	reqSigs int, sorted bool, net *chaincfg.Params) (*MultisigAccount, error) {

	if reqSigs < 1 || reqSigs > len(keys) {
		str := fmt.Sprintf("cannot require %d of %d signatures", reqSigs,
			len(keys))
		return nil, newError(ErrScriptCreation, str, nil)
	}
	return &MultisigAccount{
		Index:   index,
		Keys:    keys,
		ReqSigs: reqSigs,
		Sorted:  sorted,
		net:     net,
	}, nil
}

// Net returns the network the account addresses are encoded for.
func (a *MultisigAccount) Net() *chaincfg.Params {
	return a.net
}

// leafKeys derives the chain/leaf child of every member key, in member
// order.
func (a *MultisigAccount) leafKeys(chain,
	leaf uint32) ([]*hdkeychain.ExtendedKey, error) {

	keys := make([]*hdkeychain.ExtendedKey, len(a.Keys))
	for i, key := range a.Keys {
		chainKey, err := key.Derive(chain)
		if err != nil {
			str := fmt.Sprintf("cannot derive chain %d of member %d",
				chain, i)
			return nil, newError(ErrKeyChain, str, err)
		}
		keys[i], err = chainKey.Derive(leaf)
		if err != nil {
			str := fmt.Sprintf("cannot derive leaf %d/%d of member %d",
				chain, leaf, i)
			return nil, newError(ErrKeyChain, str, err)
		}
	}
	return keys, nil
}

// PubKeys returns the leaf public keys in redeem script order.
func (a *MultisigAccount) PubKeys(chain,
	leaf uint32) ([]*btcutil.AddressPubKey, error) {

	keys, err := a.leafKeys(chain, leaf)
	if err != nil {
		return nil, err
	}
	pks := make([]*btcutil.AddressPubKey, len(keys))
	for i, key := range keys {
		pubKey, err := key.ECPubKey()
		if err != nil {
			str := fmt.Sprintf("cannot obtain public key of member %d", i)
			return nil, newError(ErrKeyChain, str, err)
		}
		pks[i], err = btcutil.NewAddressPubKey(
			pubKey.SerializeCompressed(), a.net,
		)
		if err != nil {
			return nil, newError(ErrKeyChain, "invalid public key", err)
		}
	}
	if a.Sorted {
		sort.Slice(pks, func(i, j int) bool {
			return bytes.Compare(pks[i].ScriptAddress(),
				pks[j].ScriptAddress()) < 0
		})
	}
	return pks, nil
}

// RedeemScript returns the multisig redeem script of the given leaf.
func (a *MultisigAccount) RedeemScript(chain, leaf uint32) ([]byte, error) {
	pks, err := a.PubKeys(chain, leaf)
	if err != nil {
		return nil, err
	}
	script, err := txscript.MultiSigScript(pks, a.ReqSigs)
	if err != nil {
		str := fmt.Sprintf("cannot create redeem script for %d/%d/%d",
			a.Index, chain, leaf)
		return nil, newError(ErrScriptCreation, str, err)
	}
	return script, nil
}

// Address returns the pay-to-script-hash address of the given leaf.
func (a *MultisigAccount) Address(chain,
	leaf uint32) (*btcutil.AddressScriptHash, error) {

	script, err := a.RedeemScript(chain, leaf)
	if err != nil {
		return nil, err
	}
	addr, err := btcutil.NewAddressScriptHash(script, a.net)
	if err != nil {
		return nil, newError(ErrScriptCreation, "cannot create p2sh "+
			"address", err)
	}
	return addr, nil
}

// PrivKeys returns the leaf private keys of the members holding private
// material.
func (a *MultisigAccount) PrivKeys(chain,
	leaf uint32) ([]*btcec.PrivateKey, error) {

	keys, err := a.leafKeys(chain, leaf)
	if err != nil {
		return nil, err
	}
	var privKeys []*btcec.PrivateKey
	for i, key := range keys {
		if !key.IsPrivate() {
			continue
		}
		privKey, err := key.ECPrivKey()
		if err != nil {
			str := fmt.Sprintf("cannot obtain private key of member %d", i)
			return nil, newError(ErrKeyChain, str, err)
		}
		privKeys = append(privKeys, privKey)
	}
	return privKeys, nil
}

// PublicKeyStrings returns the serialized extended public keys of the
// members, in member order.
func (a *MultisigAccount) PublicKeyStrings() ([]string, error) {
	strs := make([]string, len(a.Keys))
	for i, key := range a.Keys {
		pub, err := key.Neuter()
		if err != nil {
			return nil, newError(ErrKeyChain, "cannot neuter key", err)
		}
		strs[i] = pub.String()
	}
	return strs, nil
}

// ChainPath returns the "chain/leaf" path of a leaf inside its account.
func ChainPath(chain, leaf uint32) string {
	return fmt.Sprintf("%d/%d", chain, leaf)
}

// FullLeafPath joins an account path and a leaf path into the absolute
// "/account/chain/leaf" form carried by batch transactions.
func FullLeafPath(accountPath, leafPath string) string {
	return "/" + strings.Trim(accountPath, "/") + "/" +
		strings.Trim(leafPath, "/")
}

// DerivePath derives the descendant of key at the given "/"-separated path.
// Elements suffixed with ' or h are hardened.
func DerivePath(key *hdkeychain.ExtendedKey,
	path string) (*hdkeychain.ExtendedKey, error) {

	path = strings.Trim(path, "/")
	if path == "" {
		return key, nil
	}
	for _, elem := range strings.Split(path, "/") {
		hardened := strings.HasSuffix(elem, "'") ||
			strings.HasSuffix(elem, "h")
		elem = strings.TrimRight(elem, "'h")
		index, err := strconv.ParseUint(elem, 10, 31)
		if err != nil {
			str := fmt.Sprintf("invalid path element %q in %q", elem,
				path)
			return nil, newError(ErrInvalidPath, str, err)
		}
		child := uint32(index)
		if hardened {
			child += hdkeychain.HardenedKeyStart
		}
		key, err = key.Derive(child)
		if err != nil {
			str := fmt.Sprintf("cannot derive %q", path)
			return nil, newError(ErrKeyChain, str, err)
		}
	}
	return key, nil
}
