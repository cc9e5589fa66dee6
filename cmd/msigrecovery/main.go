// Copyright (c) 2015-2016, 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/msigrecovery/batch"
	"github.com/btcsuite/msigrecovery/recovery"
	"github.com/davecgh/go-spew/spew"
	"github.com/jessevdk/go-flags"
)

// appCtx is canceled on interrupt.  Commands pass it to every blocking call.
var appCtx = context.Background()

const examples = `Examples:
  msigrecovery create --origin <KS1,KS2,KS3> --destination <KS1,KS2,KS3> --save <FILE>
  msigrecovery cosign --load <FILE> --seed <SEED> --save <FILE>
  msigrecovery broadcast --load <FILE>

A key source (KS) is one of:
  - an extended public or private key (xpub..., xprv...)
  - a seed in hex format
  - an oracle service URL (https://...), always the last key source
  - the path to a .json file mapping account indexes to account xpubs`

func main() {
	if err := msigrecoveryMain(); err != nil {
		os.Exit(1)
	}
}

// msigrecoveryMain parses the command line and runs the selected command.
// It is separate from main so deferred functions run before exiting.
func msigrecoveryMain() error {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()
	appCtx = ctx

	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	parser := newParser()
	_, err := parser.Parse()
	var flagErr *flags.Error
	switch {
	case err == nil, errors.Is(err, errShowSubsystems):
		return nil

	case errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp:
		fmt.Fprintln(os.Stdout, err)
		return nil
	}

	fmt.Fprintln(os.Stderr, err)
	if logRotator != nil {
		log.Errorf("%v", err)
	}
	return err
}

func newParser() *flags.Parser {
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	parser.LongDescription = "Recovers the funds of a multisig branch " +
		"into another branch.\n\n" + examples

	commands := []struct {
		name, short, long string
		data              interface{}
	}{{
		name:  "create",
		short: "Discover accounts and create a batch of sweeps",
		long: "Discovers the funded accounts of the origin branch, " +
			"creates one sweep per account to the matching " +
			"destination account, signs it with the local keys " +
			"and writes the batch file.",
		data: &createCommand{
			Insight:    defaultInsightURL,
			Template:   defaultTemplate,
			AccountGap: recovery.DefaultAccountGap,
			LeafGap:    recovery.DefaultLeafGap,
			FeeRate:    newFeeRateFlag(),
		},
	}, {
		name:  "cosign",
		short: "Add the backup key signatures to a batch",
		long: "Validates a batch offline, signs every input with the " +
			"key derived from the backup seed and writes the result.",
		data: &cosignCommand{},
	}, {
		name:  "broadcast",
		short: "Validate a batch online and relay its transactions",
		data: &broadcastCommand{
			Insight: defaultInsightURL,
			FeeRate: newFeeRateFlag(),
			MaxFee:  newMaxFeeFlag(),
		},
	}, {
		name:  "validate",
		short: "Check a batch file and report its fees and signatures",
		long: "Checks the header of a batch.  When --insight is set, " +
			"the spent outputs are fetched and the fees checked.",
		data: newValidateCommand(),
	}, {
		name:  "address",
		short: "Print the address of a branch leaf",
		data:  &addressCommand{Template: defaultTemplate},
	}}
	for _, c := range commands {
		long := c.long
		if long == "" {
			long = c.short
		}
		if _, err := parser.AddCommand(c.name, c.short, long, c.data); err != nil {
			panic(err)
		}
	}
	return parser
}

// checkArgs rejects positional arguments of commands taking none.
func checkArgs(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments %v", args)
	}
	return nil
}

// reportBatch prints the per transaction lines of a validation report.
func reportBatch(b *batch.Batch, report *batch.Report) {
	for _, tx := range report.Txs {
		if report.Online {
			fmt.Printf("%v: out %v, fee %v (%.2f%%, recommended %v), "+
				"%d unsigned %s\n", tx.Hash, tx.TotalOut, tx.Fee,
				tx.FeePercent, tx.RecommendedFee, tx.BadSignatures,
				pickNoun(tx.BadSignatures, "input", "inputs"))
			continue
		}
		fmt.Printf("%v: out %v, %d unsigned %s\n", tx.Hash, tx.TotalOut,
			tx.BadSignatures, pickNoun(tx.BadSignatures, "input",
				"inputs"))
	}
	fmt.Printf("%d %s, total out %v, merkle root %v\n", len(b.Txs),
		pickNoun(len(b.Txs), "transaction", "transactions"),
		btcutil.Amount(b.Header.TotalOut), b.Header.MerkleRoot)

	log.Debugf("Batch header: %v", newLogClosure(func() string {
		return spew.Sdump(b.Header)
	}))
}
