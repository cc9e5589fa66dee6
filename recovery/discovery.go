// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package recovery

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/msigrecovery/branch"
	"github.com/btcsuite/msigrecovery/cache"
	"github.com/btcsuite/msigrecovery/chain"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

// RecoverOriginAccounts discovers the origin accounts.  Accounts added with
// AddKnownAccount are the only ones checked; otherwise accounts are searched
// from the first account until AccountGap consecutive ones are not found.
// Found and not found results are cached, failures are not.
func (l *Ledger) RecoverOriginAccounts(ctx context.Context) []Outcome {
	var outcomes []Outcome
	if !l.searchAccounts {
		for _, index := range l.knownIndexes() {
			acct := l.accounts[index]
			outcome := l.recoverOriginAccount(
				ctx, index, acct.external, acct.internal,
			)
			acct.found = outcome.Status == StatusFound
			outcomes = append(outcomes, outcome)
		}
		l.advance(StateOriginDiscovered)
		return outcomes
	}

	none := fn.None[LeafSet]()
	remaining := l.cfg.AccountGap
	for index := l.cfg.FirstAccount; remaining > 0; index++ {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{
				Index:  index,
				Status: StatusFailed,
				Err:    err,
			})
			break
		}

		outcome := l.recoverOriginAccount(ctx, index, none, none)
		found := outcome.Status == StatusFound
		l.accounts[index] = &knownAccount{
			external: none,
			internal: none,
			found:    found,
		}
		outcomes = append(outcomes, outcome)

		if found {
			remaining = l.cfg.AccountGap
		} else {
			remaining--
		}
		if index == math.MaxUint32 {
			break
		}
	}
	l.advance(StateOriginDiscovered)
	return outcomes
}

func originOutcome(index uint32, rec *originRecord) Outcome {
	if !rec.Found {
		return Outcome{Index: index, Status: StatusNotFound}
	}
	outcome := Outcome{
		Index:   index,
		Status:  StatusFound,
		Balance: rec.Balance,
	}
	if len(rec.Leaves) > 0 {
		outcome.Address = rec.Leaves[0].Address
	}
	return outcome
}

func (l *Ledger) recoverOriginAccount(ctx context.Context, index uint32,
	external, internal fn.Option[LeafSet]) Outcome {

	l.accountsScanned.Add(1)
	failed := func(err error) Outcome {
		log.Errorf("Account %d: discovery failed: %v", index, err)
		return Outcome{Index: index, Status: StatusFailed, Err: err}
	}

	cached, err := l.loadOrigin(index)
	if err != nil {
		return failed(err)
	}
	if cached.IsSome() {
		rec := cached.UnwrapOr(nil)
		log.Debugf("Account %d: cached, found %v", index, rec.Found)
		return originOutcome(index, rec)
	}

	rec, err := l.discoverOrigin(ctx, index, external, internal)
	switch {
	case branch.IsError(err, branch.ErrUnknownKeychain):
		log.Infof("Account %d: unknown keychain", index)
		rec = &originRecord{}

	case err != nil:
		return failed(err)
	}

	if err := l.saveRecord(cache.OriginAccount, index, rec); err != nil {
		return failed(err)
	}
	return originOutcome(index, rec)
}

// discoverOrigin derives an origin account and fetches the balances of its
// leaves.  An account is found when it holds funds or, since the oracle
// only knows keychains that were created, when the oracle resolves it.
func (l *Ledger) discoverOrigin(ctx context.Context, index uint32,
	external, internal fn.Option[LeafSet]) (*originRecord, error) {

	account, err := l.cfg.Origin.Account(ctx, index)
	if err != nil {
		return nil, err
	}

	var leaves []leafRecord
	if external.IsSome() || internal.IsSome() {
		leaves, err = l.scanKnownLeaves(ctx, account, external, internal)
	} else {
		leaves, err = l.searchLeaves(ctx, account)
	}
	if err != nil {
		return nil, err
	}

	balance := leavesBalance(leaves)
	if !l.cfg.Origin.NeedsOracle() && balance == 0 {
		return &originRecord{}, nil
	}

	pubKeys, err := account.PublicKeyStrings()
	if err != nil {
		return nil, err
	}
	for _, leaf := range leaves {
		if leaf.Balance > 0 {
			log.Infof("Origin %d/%s %s: %v", index,
				branch.ChainPath(leaf.Chain, leaf.Index), leaf.Address,
				leaf.Balance)
		}
	}
	log.Infof("Account %d: found, balance %v", index, balance)

	return &originRecord{
		Found:   true,
		PubKeys: pubKeys,
		Balance: balance,
		Leaves:  leaves,
	}, nil
}

func leavesBalance(leaves []leafRecord) btcutil.Amount {
	var total btcutil.Amount
	for _, leaf := range leaves {
		total += leaf.Balance
	}
	return total
}

type leafTarget struct {
	chain    uint32
	index    uint32
	expected string
}

// scanKnownLeaves checks the listed leaves only.
func (l *Ledger) scanKnownLeaves(ctx context.Context,
	account *branch.MultisigAccount, external,
	internal fn.Option[LeafSet]) ([]leafRecord, error) {

	var targets []leafTarget
	add := func(c uint32, set LeafSet) {
		for _, index := range set.Indexes() {
			targets = append(targets, leafTarget{
				chain:    c,
				index:    index,
				expected: set[index],
			})
		}
	}
	external.WhenSome(func(set LeafSet) {
		add(branch.ExternalChain, set)
	})
	internal.WhenSome(func(set LeafSet) {
		add(branch.InternalChain, set)
	})
	return l.scanLeaves(ctx, account, targets)
}

// searchLeaves scans both chains of account by windows of LeafGap leaves
// until a window adds no funds.
func (l *Ledger) searchLeaves(ctx context.Context,
	account *branch.MultisigAccount) ([]leafRecord, error) {

	var (
		leaves   []leafRecord
		previous btcutil.Amount
		scanned  uint32
	)
	for window := l.cfg.LeafGap; ; window += l.cfg.LeafGap {
		if window > hdkeychain.HardenedKeyStart {
			window = hdkeychain.HardenedKeyStart
		}
		var targets []leafTarget
		for _, c := range []uint32{branch.ExternalChain,
			branch.InternalChain} {

			for index := scanned; index < window; index++ {
				targets = append(targets, leafTarget{
					chain: c,
					index: index,
				})
			}
		}
		scanned = window

		found, err := l.scanLeaves(ctx, account, targets)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, found...)

		balance := leavesBalance(leaves)
		if balance == previous || window == hdkeychain.HardenedKeyStart {
			break
		}
		log.Debugf("Account %d: balance %v after %d leaves, extending "+
			"lookahead", account.Index, balance, window)
		previous = balance
	}

	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].Chain != leaves[j].Chain {
			return leaves[i].Chain < leaves[j].Chain
		}
		return leaves[i].Index < leaves[j].Index
	})
	return leaves, nil
}

// scanLeaves fetches the balance of every target concurrently.  Addresses
// are derived serially beforehand: deriving from a private member key
// caches its public key in place, so the account must not be shared by the
// fetching goroutines.
func (l *Ledger) scanLeaves(ctx context.Context,
	account *branch.MultisigAccount,
	targets []leafTarget) ([]leafRecord, error) {

	addrs := make([]btcutil.Address, len(targets))
	for i, target := range targets {
		addr, err := account.Address(target.chain, target.index)
		if err != nil {
			return nil, err
		}
		encoded := addr.EncodeAddress()
		if target.expected != "" && target.expected != encoded {
			return nil, fmt.Errorf("%w: %d/%s is %s, expected %s",
				ErrAddressMismatch, account.Index,
				branch.ChainPath(target.chain, target.index),
				encoded, target.expected)
		}
		addrs[i] = addr
	}

	leaves := make([]leafRecord, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MaxConcurrentFetches)
	for i, target := range targets {
		addr := addrs[i]
		g.Go(func() error {
			encoded := addr.EncodeAddress()
			utxos, err := l.cfg.Provider.SpendablesForAddress(gctx, addr)
			if err != nil {
				return fmt.Errorf("cannot fetch unspent outputs of "+
					"%s: %w", encoded, err)
			}
			leaves[i] = leafRecord{
				Chain:   target.chain,
				Index:   target.index,
				Address: encoded,
				Balance: chain.Balance(utxos),
			}
			l.leavesScanned.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return leaves, nil
}

// RecoverDestinationAccounts derives the destination account of every found
// origin account and records its first external address as the sweep
// target.
func (l *Ledger) RecoverDestinationAccounts(ctx context.Context) []Outcome {
	var outcomes []Outcome
	for _, index := range l.foundIndexes() {
		outcomes = append(outcomes, l.recoverDestinationAccount(ctx, index))
	}
	l.advance(StateDestinationDiscovered)
	return outcomes
}

func (l *Ledger) recoverDestinationAccount(ctx context.Context,
	index uint32) Outcome {

	failed := func(err error) Outcome {
		log.Errorf("Account %d: destination discovery failed: %v", index,
			err)
		return Outcome{Index: index, Status: StatusFailed, Err: err}
	}

	cached, err := l.loadDestination(index)
	if err != nil {
		return failed(err)
	}
	if cached.IsSome() {
		return Outcome{
			Index:   index,
			Status:  StatusFound,
			Address: cached.UnwrapOr(nil).Address,
		}
	}

	account, err := l.cfg.Destination.Account(ctx, index)
	if err != nil {
		return failed(err)
	}
	addr, err := account.Address(branch.ExternalChain, 0)
	if err != nil {
		return failed(err)
	}
	pubKeys, err := account.PublicKeyStrings()
	if err != nil {
		return failed(err)
	}
	rec := &destinationRecord{
		PubKeys: pubKeys,
		Address: addr.EncodeAddress(),
		Path: branch.FullLeafPath(
			l.cfg.Destination.BackupAccountPath(index),
			branch.ChainPath(branch.ExternalChain, 0),
		),
	}
	if err := l.saveRecord(cache.DestinationAccount, index, rec); err != nil {
		return failed(err)
	}
	log.Infof("Destination %d/%s %s", index,
		branch.ChainPath(branch.ExternalChain, 0), rec.Address)

	return Outcome{Index: index, Status: StatusFound, Address: rec.Address}
}
