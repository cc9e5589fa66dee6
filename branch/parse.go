// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package branch

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// ParseConfig holds what is needed to turn key source strings into key
// sources.
type ParseConfig struct {
	// Net is the network extended keys and seeds are created for.
	Net *chaincfg.Params

	// NewOracle creates the oracle client of an oracle URL.  Oracle URLs
	// are rejected when nil.
	NewOracle func(url string) (Oracle, error)

	// Registrations, when set, is used by oracle sources to register
	// unknown keychains.
	Registrations *Registrations
}

// ParseKeySources parses a comma separated key source list.  The oracle
// source, if any, must be the last one.
func ParseKeySources(s string, cfg *ParseConfig) ([]KeySource, error) {
	tokens := strings.Split(s, ",")
	sources := make([]KeySource, 0, len(tokens))
	for i, token := range tokens {
		source, err := ParseKeySource(strings.TrimSpace(token), cfg)
		if err != nil {
			return nil, err
		}
		if _, ok := source.(*RemoteOracleKeySource); ok &&
			i != len(tokens)-1 {

			return nil, newError(ErrOracleNotLast, "oracle always has to "+
				"be the last account key source", nil)
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// ParseKeySource parses one key source token: a path to a JSON pubkey
// table, an oracle URL, a hex seed or an extended key.
func ParseKeySource(token string, cfg *ParseConfig) (KeySource, error) {
	switch {
	case token == "":
		return nil, newError(ErrInvalidKeySource, "empty key source", nil)

	case strings.HasSuffix(token, ".json"):
		return LoadAccountPubkeyTable(token)

	case IsOracleURL(token):
		if cfg.NewOracle == nil {
			str := fmt.Sprintf("oracle key source %s not allowed here",
				token)
			return nil, newError(ErrInvalidKeySource, str, nil)
		}
		oracle, err := cfg.NewOracle(token)
		if err != nil {
			return nil, newError(ErrInvalidKeySource, "cannot create "+
				"oracle client", err)
		}
		return NewRemoteOracleKeySource(token, oracle, cfg.Registrations), nil
	}

	if seed, err := hex.DecodeString(token); err == nil &&
		len(seed) >= hdkeychain.MinSeedBytes &&
		len(seed) <= hdkeychain.MaxSeedBytes {

		return LocalMasterKeyFromSeed(seed, cfg.Net)
	}

	key, err := hdkeychain.NewKeyFromString(token)
	if err != nil {
		str := fmt.Sprintf("unknown type for account key source %q",
			token)
		return nil, newError(ErrInvalidKeySource, str, err)
	}
	if !key.IsForNet(cfg.Net) {
		str := fmt.Sprintf("extended key %q is not for %s", token,
			cfg.Net.Name)
		return nil, newError(ErrInvalidKeySource, str, nil)
	}
	if key.IsPrivate() {
		return NewLocalMasterKey(key)
	}
	return NewRemoteMasterPubkey(key)
}

// IsOracleURL returns whether a key source token names an oracle service.
func IsOracleURL(token string) bool {
	return strings.HasPrefix(token, "http://") ||
		strings.HasPrefix(token, "https://")
}

// LoadAccountPubkeyTable reads a {"<account index>": "<xpub>"} JSON file.
func LoadAccountPubkeyTable(path string) (*AccountPubkeyTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrInvalidKeySource, "cannot read pubkey "+
			"table", err)
	}
	var table AccountPubkeyTable
	if err := json.Unmarshal(b, &table); err != nil {
		str := fmt.Sprintf("invalid pubkey table %s", path)
		return nil, newError(ErrInvalidKeySource, str, err)
	}
	return &table, nil
}

// LoadRegistrations reads an oracle registration file.
func LoadRegistrations(path string) (*Registrations, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrMissingRegistration, "cannot read "+
			"registrations", err)
	}
	var regs Registrations
	if err := json.Unmarshal(b, &regs); err != nil {
		str := fmt.Sprintf("invalid registrations file %s", path)
		return nil, newError(ErrMissingRegistration, str, err)
	}
	return &regs, nil
}
