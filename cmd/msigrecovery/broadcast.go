// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/btcsuite/msigrecovery/batch"
	"github.com/btcsuite/msigrecovery/internal/cfgutil"
)

type broadcastCommand struct {
	Load    string              `long:"load" required:"true" description:"Batch file to broadcast"`
	Insight string              `long:"insight" description:"Insight service URL"`
	FeeRate *cfgutil.AmountFlag `long:"feerate" description:"Fee per kilobyte recommended fees are computed with"`
	MaxFee  *cfgutil.AmountFlag `long:"maxfee" description:"Fee above which a transaction paying more than twice the recommended fee is rejected"`
}

// Execute validates the batch online and relays every transaction.
func (c *broadcastCommand) Execute(args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := checkArgs(args); err != nil {
		return err
	}

	provider, err := newProvider(c.Insight)
	if err != nil {
		return err
	}
	b, err := batch.ReadFile(c.Load)
	if err != nil {
		return err
	}

	v := &batch.Validator{
		Provider:       provider,
		FeePerKb:       c.FeeRate.Amount,
		MaxAbsoluteFee: c.MaxFee.Amount,
	}
	report, err := v.Validate(appCtx, b)
	if err != nil {
		return err
	}
	reportBatch(b, report)
	if n := report.BadSignatures(); n > 0 {
		return fmt.Errorf("batch has %d incompletely signed %s", n,
			pickNoun(n, "input", "inputs"))
	}

	failed := 0
	for _, result := range batch.Broadcast(appCtx, b, provider) {
		if result.Err != nil {
			failed++
			fmt.Printf("%v: failed: %v\nraw: %s\n", result.TxID,
				result.Err, result.Raw)
			continue
		}
		fmt.Printf("%v: sent\n", result.TxID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d %s not sent", failed, len(b.Txs),
			pickNoun(len(b.Txs), "transaction", "transactions"))
	}
	return nil
}
