// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"
)

type addressCommand struct {
	Branch   string `long:"branch" required:"true" description:"Key sources of the branch, comma separated"`
	Template string `long:"template" description:"Account template of the branch" choice:"bip32" choice:"bip32_hardened" choice:"bitoasis_v1"`
	Args     struct {
		Path string `positional-arg-name:"account/chain/leaf" required:"true"`
	} `positional-args:"yes"`
}

// parseLeafPath parses an "account/chain/leaf" path.
func parseLeafPath(path string) (account, chain, leaf uint32, err error) {
	elems := strings.Split(strings.Trim(path, "/"), "/")
	if len(elems) != 3 {
		return 0, 0, 0, fmt.Errorf("path %q is not account/chain/leaf",
			path)
	}
	var idx [3]uint32
	for i, elem := range elems {
		n, err := strconv.ParseUint(elem, 10, 31)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid path element %q: %w",
				elem, err)
		}
		idx[i] = uint32(n)
	}
	return idx[0], idx[1], idx[2], nil
}

// Execute prints the P2SH address of one leaf of the branch.
func (c *addressCommand) Execute(args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := checkArgs(args); err != nil {
		return err
	}

	account, chain, leaf, err := parseLeafPath(c.Args.Path)
	if err != nil {
		return err
	}
	b, err := parseBranch(c.Branch, c.Template, nil)
	if err != nil {
		return err
	}
	acct, err := b.Account(appCtx, account)
	if err != nil {
		return err
	}
	addr, err := acct.Address(chain, leaf)
	if err != nil {
		return err
	}
	fmt.Println(addr.EncodeAddress())
	return nil
}
