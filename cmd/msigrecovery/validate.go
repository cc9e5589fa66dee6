// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/btcsuite/msigrecovery/batch"
	"github.com/btcsuite/msigrecovery/chain"
	"github.com/btcsuite/msigrecovery/internal/cfgutil"
)

type validateCommand struct {
	Load    string                  `long:"load" required:"true" description:"Batch file to check"`
	Insight *cfgutil.ExplicitString `long:"insight" description:"Insight service URL; the fees are only checked when set"`
	FeeRate *cfgutil.AmountFlag     `long:"feerate" description:"Fee per kilobyte recommended fees are computed with"`
	MaxFee  *cfgutil.AmountFlag     `long:"maxfee" description:"Fee above which a transaction paying more than twice the recommended fee is rejected"`
}

func newValidateCommand() *validateCommand {
	return &validateCommand{
		Insight: cfgutil.NewExplicitString(defaultInsightURL),
		FeeRate: newFeeRateFlag(),
		MaxFee:  newMaxFeeFlag(),
	}
}

// Execute checks the batch, online when an insight URL was given.
func (c *validateCommand) Execute(args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := checkArgs(args); err != nil {
		return err
	}

	b, err := batch.ReadFile(c.Load)
	if err != nil {
		return err
	}

	v := &batch.Validator{
		FeePerKb:       c.FeeRate.Amount,
		MaxAbsoluteFee: c.MaxFee.Amount,
	}
	if c.Insight.ExplicitlySet() {
		var provider chain.Provider
		provider, err = newProvider(c.Insight.Value)
		if err != nil {
			return err
		}
		v.Provider = provider
	}

	report, err := v.Validate(appCtx, b)
	if err != nil {
		return err
	}
	reportBatch(b, report)
	return nil
}
