// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// LeafSet maps the leaf indexes of one chain to the addresses they are
// expected to have.  An empty address is not checked.
type LeafSet map[uint32]string

// Indexes returns the leaf indexes in ascending order.
func (s LeafSet) Indexes() []uint32 {
	indexes := make([]uint32, 0, len(s))
	for index := range s {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i] < indexes[j]
	})
	return indexes
}

// UnmarshalJSON accepts either a list of leaf indexes or an object mapping
// leaf indexes to addresses.
func (s *LeafSet) UnmarshalJSON(b []byte) error {
	var list []uint32
	if err := json.Unmarshal(b, &list); err == nil {
		set := make(LeafSet, len(list))
		for _, index := range list {
			set[index] = ""
		}
		*s = set
		return nil
	}

	var addrs map[string]string
	if err := json.Unmarshal(b, &addrs); err != nil {
		return fmt.Errorf("leafs must be a list of indexes or an object "+
			"of index to address: %w", err)
	}
	set := make(LeafSet, len(addrs))
	for k, addr := range addrs {
		index, err := strconv.ParseUint(k, 10, 31)
		if err != nil {
			return fmt.Errorf("invalid leaf index %q: %w", k, err)
		}
		set[uint32(index)] = addr
	}
	*s = set
	return nil
}

// KnownAccount is one entry of a known accounts file.  Nil leaf sets mean
// the leaves of that chain are searched.
type KnownAccount struct {
	Index    uint32
	External fn.Option[LeafSet]
	Internal fn.Option[LeafSet]
}

type knownAccountJSON struct {
	External *LeafSet `json:"external_leafs"`
	Internal *LeafSet `json:"internal_leafs"`
}

// ParseKnownAccounts parses a known accounts file: an object mapping account
// indexes to null or to {"external_leafs": ..., "internal_leafs": ...}.  The
// leaves are only used when both chains are given.  Accounts are returned
// in ascending index order.
func ParseKnownAccounts(b []byte) ([]KnownAccount, error) {
	var raw map[string]*knownAccountJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("invalid known accounts: %w", err)
	}

	accounts := make([]KnownAccount, 0, len(raw))
	for k, leaves := range raw {
		index, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid account index %q: %w", k,
				err)
		}
		account := KnownAccount{
			Index:    uint32(index),
			External: fn.None[LeafSet](),
			Internal: fn.None[LeafSet](),
		}
		if leaves != nil && leaves.External != nil &&
			leaves.Internal != nil {

			account.External = fn.Some(*leaves.External)
			account.Internal = fn.Some(*leaves.Internal)
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Index < accounts[j].Index
	})
	return accounts, nil
}

// LoadKnownAccounts reads a known accounts file.
func LoadKnownAccounts(path string) ([]KnownAccount, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKnownAccounts(b)
}
