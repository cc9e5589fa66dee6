// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package branch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// dictSourceID names pubkey table sources in branch ids, since they
	// carry no master key of their own.
	dictSourceID = "Dict"

	// oracleSourceID names oracle sources in branch ids.
	oracleSourceID = "Oracle"
)

// KeySource supplies the account-level extended key of one multisig member.
// The set of implementations is closed: *LocalMasterKey,
// *RemoteMasterPubkey, *AccountPubkeyTable and *RemoteOracleKeySource.
type KeySource interface {
	// ID returns the public identifier of the source: the extended public
	// master key when there is one, a class tag otherwise.
	ID() string

	keySource()
}

// LocalMasterKey is an HD master key holding private material.  It can
// derive both hardened and non-hardened account keys.
type LocalMasterKey struct {
	key *hdkeychain.ExtendedKey
}

// NewLocalMasterKey wraps a private extended master key.
func NewLocalMasterKey(key *hdkeychain.ExtendedKey) (*LocalMasterKey, error) {
	if !key.IsPrivate() {
		return nil, newError(ErrInvalidKeySource,
			"local master key must hold private material", nil)
	}
	return &LocalMasterKey{key: key}, nil
}

// LocalMasterKeyFromSeed creates the master key for the given seed.
func LocalMasterKeyFromSeed(seed []byte,
	net *chaincfg.Params) (*LocalMasterKey, error) {

	key, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, newError(ErrKeyChain, "cannot create master key "+
			"from seed", err)
	}
	return &LocalMasterKey{key: key}, nil
}

// ID returns the extended public key of the master key.
func (k *LocalMasterKey) ID() string {
	pub, err := k.key.Neuter()
	if err != nil {
		return ""
	}
	return pub.String()
}

// Key returns the private extended master key.
func (k *LocalMasterKey) Key() *hdkeychain.ExtendedKey {
	return k.key
}

// Account derives the account key with the given index.
func (k *LocalMasterKey) Account(index uint32,
	hardened bool) (*hdkeychain.ExtendedKey, error) {

	if hardened {
		if index >= hdkeychain.HardenedKeyStart {
			str := fmt.Sprintf("account %d is out of the hardened "+
				"range", index)
			return nil, newError(ErrInvalidPath, str, nil)
		}
		index += hdkeychain.HardenedKeyStart
	}
	child, err := k.key.Derive(index)
	if err != nil {
		str := fmt.Sprintf("cannot derive account %d", index)
		return nil, newError(ErrKeyChain, str, err)
	}
	return child, nil
}

func (*LocalMasterKey) keySource() {}

// RemoteMasterPubkey is an HD master key known only by its extended public
// key.  Only non-hardened accounts can be derived from it.
type RemoteMasterPubkey struct {
	key *hdkeychain.ExtendedKey
}

// NewRemoteMasterPubkey wraps an extended public master key.  Private keys
// are neutered.
func NewRemoteMasterPubkey(
	key *hdkeychain.ExtendedKey) (*RemoteMasterPubkey, error) {

	pub, err := key.Neuter()
	if err != nil {
		return nil, newError(ErrKeyChain, "cannot neuter key", err)
	}
	return &RemoteMasterPubkey{key: pub}, nil
}

// ID returns the extended public key.
func (k *RemoteMasterPubkey) ID() string {
	return k.key.String()
}

// Account derives the non-hardened account key with the given index.
func (k *RemoteMasterPubkey) Account(
	index uint32) (*hdkeychain.ExtendedKey, error) {

	child, err := k.key.Derive(index)
	if err != nil {
		str := fmt.Sprintf("cannot derive account %d", index)
		return nil, newError(ErrKeyChain, str, err)
	}
	return child, nil
}

func (*RemoteMasterPubkey) keySource() {}

// AccountPubkeyTable is an explicit account index to account key mapping,
// used when a cosigner's account keys cannot be derived from its xpub, eg.
// because its accounts are hardened.
type AccountPubkeyTable struct {
	keys map[uint32]*hdkeychain.ExtendedKey
}

// NewAccountPubkeyTable parses the given account index to extended public
// key strings mapping.
func NewAccountPubkeyTable(
	raw map[uint32]string) (*AccountPubkeyTable, error) {

	keys := make(map[uint32]*hdkeychain.ExtendedKey, len(raw))
	for index, s := range raw {
		key, err := hdkeychain.NewKeyFromString(s)
		if err != nil {
			str := fmt.Sprintf("invalid extended key for account %d",
				index)
			return nil, newError(ErrInvalidKeySource, str, err)
		}
		pub, err := key.Neuter()
		if err != nil {
			return nil, newError(ErrKeyChain, "cannot neuter key", err)
		}
		keys[index] = pub
	}
	return &AccountPubkeyTable{keys: keys}, nil
}

// UnmarshalJSON decodes a {"<account index>": "<xpub>", ...} object.
func (t *AccountPubkeyTable) UnmarshalJSON(b []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	indexed := make(map[uint32]string, len(raw))
	for k, v := range raw {
		index, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			str := fmt.Sprintf("invalid account index %q", k)
			return newError(ErrInvalidKeySource, str, err)
		}
		indexed[uint32(index)] = v
	}
	table, err := NewAccountPubkeyTable(indexed)
	if err != nil {
		return err
	}
	*t = *table
	return nil
}

// ID returns the class tag of pubkey tables.
func (*AccountPubkeyTable) ID() string {
	return dictSourceID
}

// Get returns the account key for the given index.
func (t *AccountPubkeyTable) Get(index uint32) (*hdkeychain.ExtendedKey, error) {
	key, ok := t.keys[index]
	if !ok {
		str := fmt.Sprintf("account %d missing in pubkey table", index)
		return nil, newError(ErrUnknownAccountIndex, str, nil)
	}
	return key, nil
}

func (*AccountPubkeyTable) keySource() {}

// Oracle is a remote key-custody service holding one member key of a
// keychain.  The keychain is identified by the keys of the other members.
type Oracle interface {
	// Get returns the oracle's key for the keychain made of the given
	// member keys.  An Error with code ErrUnknownKeychain is returned when
	// the oracle has no such keychain.
	Get(ctx context.Context,
		keys []*hdkeychain.ExtendedKey) (*hdkeychain.ExtendedKey, error)

	// Create registers a new keychain for the given member keys.
	Create(ctx context.Context, keys []*hdkeychain.ExtendedKey,
		reg Registration) error
}

// Registration holds what the oracle needs to create a keychain for one
// account.
type Registration struct {
	Manager      string
	Parameters   json.RawMessage
	PersonalInfo map[string]string
}

// Registrations is the content of a registration file: the oracle
// parameters shared by every account plus personal information per account
// index.
type Registrations struct {
	Manager      string                       `json:"manager"`
	Parameters   json.RawMessage              `json:"parameters"`
	PersonalInfo map[string]map[string]string `json:"personal_info"`
}

// ForAccount returns the registration of the given account.
func (r *Registrations) ForAccount(index uint32) (Registration, error) {
	info, ok := r.PersonalInfo[strconv.FormatUint(uint64(index), 10)]
	if !ok {
		str := fmt.Sprintf("account %d missing in registrations, "+
			"could not register with oracle", index)
		return Registration{}, newError(ErrMissingRegistration, str, nil)
	}
	return Registration{
		Manager:      r.Manager,
		Parameters:   r.Parameters,
		PersonalInfo: info,
	}, nil
}

// RemoteOracleKeySource fetches the account key from an oracle.  It must be
// the last source of a branch since its keychain identifier depends on the
// keys of every other member.
type RemoteOracleKeySource struct {
	url           string
	oracle        Oracle
	registrations *Registrations
}

// NewRemoteOracleKeySource creates an oracle key source.  When
// registrations is non-nil, unknown keychains are registered on first use.
func NewRemoteOracleKeySource(url string, oracle Oracle,
	registrations *Registrations) *RemoteOracleKeySource {

	return &RemoteOracleKeySource{
		url:           url,
		oracle:        oracle,
		registrations: registrations,
	}
}

// ID returns the class tag of oracle sources.
func (*RemoteOracleKeySource) ID() string {
	return oracleSourceID
}

// URL returns the oracle service URL.
func (s *RemoteOracleKeySource) URL() string {
	return s.url
}

// Get returns the oracle key of the account whose other members resolved to
// the given keys, registering the keychain first if needed and possible.
func (s *RemoteOracleKeySource) Get(ctx context.Context, index uint32,
	resolved []*hdkeychain.ExtendedKey) (*hdkeychain.ExtendedKey, error) {

	key, err := s.oracle.Get(ctx, resolved)
	if err == nil {
		return key, nil
	}
	if !IsError(err, ErrUnknownKeychain) || s.registrations == nil {
		return nil, err
	}

	reg, err := s.registrations.ForAccount(index)
	if err != nil {
		return nil, err
	}
	log.Infof("Registering oracle keychain for account %d", index)
	if err := s.oracle.Create(ctx, resolved, reg); err != nil {
		return nil, err
	}
	return s.oracle.Get(ctx, resolved)
}

func (*RemoteOracleKeySource) keySource() {}
