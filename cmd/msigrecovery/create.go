// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/btcsuite/msigrecovery/batch"
	"github.com/btcsuite/msigrecovery/branch"
	"github.com/btcsuite/msigrecovery/cache"
	"github.com/btcsuite/msigrecovery/internal/cfgutil"
	"github.com/btcsuite/msigrecovery/internal/prompt"
	"github.com/btcsuite/msigrecovery/recovery"
	"github.com/lightningnetwork/lnd/ticker"
)

// progressInterval is the period of the progress log lines of create.
const progressInterval = 30 * time.Second

type createCommand struct {
	Origin       string              `long:"origin" required:"true" description:"Key sources of the branch to recover, comma separated"`
	Destination  string              `long:"destination" required:"true" description:"Key sources of the branch receiving the funds, comma separated"`
	Save         string              `long:"save" required:"true" description:"Batch file to write"`
	Register     string              `long:"register" description:"Oracle registration file, needed when the destination branch has an oracle"`
	Accounts     string              `long:"accounts" description:"JSON file of known accounts; accounts are searched up to the account gap when unset"`
	Insight      string              `long:"insight" description:"Insight service URL"`
	Template     string              `long:"template" description:"Account template of both branches" choice:"bip32" choice:"bip32_hardened" choice:"bitoasis_v1"`
	AccountGap   uint32              `long:"accountgap" description:"Consecutive unused accounts ending the account search"`
	LeafGap      uint32              `long:"leafgap" description:"Leaves by which the address lookahead grows"`
	FirstAccount uint32              `long:"firstaccount" description:"Index the account search starts at"`
	FeeRate      *cfgutil.AmountFlag `long:"feerate" description:"Sweep fee per kilobyte"`
	Force        bool                `long:"force" description:"Overwrite the batch file without asking"`
}

func newFeeRateFlag() *cfgutil.AmountFlag {
	return cfgutil.NewAmountFlag(batch.DefaultFeePerKb)
}

func newMaxFeeFlag() *cfgutil.AmountFlag {
	return cfgutil.NewAmountFlag(batch.DefaultMaxAbsoluteFee)
}

// checkOverwrite asks before replacing an existing file unless force is set.
func checkOverwrite(path string, force bool) error {
	exists, err := cfgutil.FileExists(path)
	if err != nil || !exists || force {
		return err
	}
	ok, err := prompt.Confirm(bufio.NewReader(os.Stdin),
		fmt.Sprintf("%s exists, overwrite it?", path))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("not overwriting %s", path)
	}
	return nil
}

// Execute runs the three recovery phases and exports the batch.
func (c *createCommand) Execute(args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := checkArgs(args); err != nil {
		return err
	}
	if err := checkOverwrite(c.Save, c.Force); err != nil {
		return err
	}

	origin, err := parseBranch(c.Origin, c.Template, nil)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	var regs *branch.Registrations
	if c.Register != "" {
		regs, err = branch.LoadRegistrations(c.Register)
		if err != nil {
			return err
		}
	}
	destination, err := parseBranch(c.Destination, c.Template, regs)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if destination.NeedsOracle() && destination.ID() != origin.ID() &&
		regs == nil {

		return errors.New("oracle in destination branch but missing " +
			"--register")
	}

	var known []recovery.KnownAccount
	if c.Accounts != "" {
		known, err = recovery.LoadKnownAccounts(c.Accounts)
		if err != nil {
			return err
		}
	}

	provider, err := newProvider(c.Insight)
	if err != nil {
		return err
	}

	if err := cfgutil.CreateParentDir(cachePath()); err != nil {
		return err
	}
	db, err := cache.Open(cachePath(), origin.ID())
	if err != nil {
		return err
	}
	defer db.Close()

	ledger, err := recovery.New(recovery.Config{
		Origin:       origin,
		Destination:  destination,
		Provider:     provider,
		Cache:        db,
		AccountGap:   c.AccountGap,
		LeafGap:      c.LeafGap,
		FirstAccount: c.FirstAccount,
		FeePerKb:     c.FeeRate.Amount,
	})
	if err != nil {
		return err
	}
	for _, account := range known {
		ledger.AddKnownAccount(
			account.Index, account.External, account.Internal,
		)
	}
	if len(known) > 0 {
		log.Infof("Recovering %d known %s", len(known),
			pickNoun(len(known), "account", "accounts"))
	}

	stopProgress := reportProgress(ledger, progressInterval)
	failed := printOutcomes("origin", ledger.RecoverOriginAccounts(appCtx))
	failed += printOutcomes("destination",
		ledger.RecoverDestinationAccounts(appCtx))
	failed += printOutcomes("sweep", ledger.CreateAndSignTxs(appCtx))
	stopProgress()

	if err := appCtx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		log.Warnf("%d %s failed, run create again to retry them", failed,
			pickNoun(failed, "step", "steps"))
	}

	total, err := ledger.TotalToRecover()
	if err != nil {
		return err
	}
	fmt.Printf("Total to recover in this branch: %v\n", total)
	if total == 0 {
		log.Info("Nothing to recover, no batch written")
		return nil
	}

	b, err := ledger.ExportToBatch(appCtx, c.Save)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d %s to %s\n", len(b.Txs),
		pickNoun(len(b.Txs), "transaction", "transactions"), c.Save)
	return nil
}

// printOutcomes prints the outcome of every account of one phase and
// returns the number of failures.
func printOutcomes(phase string, outcomes []recovery.Outcome) int {
	failed := 0
	for _, o := range outcomes {
		switch o.Status {
		case recovery.StatusFailed:
			failed++
			fmt.Printf("%s account %d: %v: %v\n", phase, o.Index,
				o.Status, o.Err)

		case recovery.StatusNotFound:
			log.Debugf("%s account %d: %v", phase, o.Index, o.Status)

		case recovery.StatusSigned:
			fmt.Printf("%s account %d: %v tx %v, %v\n", phase, o.Index,
				o.Status, o.TxID, o.Balance)

		default:
			fmt.Printf("%s account %d: %v %s, %v\n", phase, o.Index,
				o.Status, o.Address, o.Balance)
		}
	}
	return failed
}

// reportProgress logs the ledger counters periodically until the returned
// function is called.
func reportProgress(l *recovery.Ledger, interval time.Duration) func() {
	t := ticker.New(interval)
	t.Resume()

	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer t.Stop()
		for {
			select {
			case <-t.Ticks():
				p := l.Progress()
				log.Infof("Scanned %d %s and %d %s",
					p.AccountsScanned, pickNoun(int(p.AccountsScanned),
						"account", "accounts"),
					p.LeavesScanned, pickNoun(int(p.LeavesScanned),
						"leaf", "leaves"))

			case <-quit:
				return
			}
		}
	}()

	return func() {
		close(quit)
		wg.Wait()
	}
}
