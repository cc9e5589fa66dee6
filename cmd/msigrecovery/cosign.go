// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/msigrecovery/batch"
	"github.com/btcsuite/msigrecovery/internal/prompt"
	"github.com/btcsuite/msigrecovery/internal/zero"
)

type cosignCommand struct {
	Load  string `long:"load" required:"true" description:"Batch file to sign"`
	Save  string `long:"save" required:"true" description:"Batch file to write"`
	Seed  string `long:"seed" description:"Hex seed of the backup master key, prompted for when unset"`
	Force bool   `long:"force" description:"Overwrite the batch file without asking"`
}

// Execute signs every transaction of the batch with the backup key.
func (c *cosignCommand) Execute(args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := checkArgs(args); err != nil {
		return err
	}
	if err := checkOverwrite(c.Save, c.Force); err != nil {
		return err
	}

	b, err := batch.ReadFile(c.Load)
	if err != nil {
		return err
	}
	if _, err := batch.Validate(appCtx, b, nil); err != nil {
		return err
	}

	var seed []byte
	if c.Seed != "" {
		seed, err = prompt.ParseSeed(c.Seed)
	} else {
		seed, err = prompt.BackupSeed(bufio.NewReader(os.Stdin))
	}
	if err != nil {
		return err
	}
	master, err := hdkeychain.NewMaster(seed, activeNet)
	zero.Bytes(seed)
	if err != nil {
		return err
	}
	defer zero.Keys(master)

	failed := 0
	for _, result := range b.Sign(master) {
		if result.Err != nil {
			failed++
			fmt.Printf("%v: not signed: %v\n", result.Hash, result.Err)
		}
	}

	report, err := batch.Validate(appCtx, b, nil)
	if err != nil {
		return err
	}
	reportBatch(b, report)
	if err := b.WriteFile(c.Save); err != nil {
		return err
	}

	if failed > 0 {
		log.Warnf("%d %s could not be signed", failed,
			pickNoun(failed, "transaction", "transactions"))
	}
	fmt.Printf("Wrote batch to %s, %d unsigned %s left\n", c.Save,
		report.BadSignatures(), pickNoun(report.BadSignatures(), "input",
			"inputs"))
	return nil
}
