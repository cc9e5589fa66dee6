// Copyright (c) 2015-2016, 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/term"
)

// readSecret reads one line without echo when stdin is a terminal, and a
// plain line otherwise.
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

// ParseSeed decodes a hex seed, checking its length against the limits of
// BIP0032.
func ParseSeed(s string) ([]byte, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(strings.ToLower(s)))
	if err != nil || len(seed) < hdkeychain.MinSeedBytes ||
		len(seed) > hdkeychain.MaxSeedBytes {

		return nil, fmt.Errorf("invalid seed specified.  Must be a "+
			"hexadecimal value that is at least %d bits and at most "+
			"%d bits", hdkeychain.MinSeedBytes*8,
			hdkeychain.MaxSeedBytes*8)
	}
	return seed, nil
}

// BackupSeed prompts for the hex seed of the backup master key until a valid
// one is entered.
func BackupSeed(reader *bufio.Reader) ([]byte, error) {
	for {
		fmt.Print("Enter the backup seed (hex): ")
		line, err := readSecret(reader)
		if err != nil {
			return nil, err
		}
		seed, err := ParseSeed(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		return seed, nil
	}
}

// promptList prompts the user with the given prefix, list of valid
// responses, and default list entry to use.  The function will repeat the
// prompt to the user until they enter a valid response.
func promptList(reader *bufio.Reader, prefix string, validResponses []string,
	defaultEntry string) (string, error) {

	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	for {
		fmt.Print(prompt)
		reply, err := reader.ReadString('\n')
		if err != nil && reply == "" {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(reader *bufio.Reader, prefix string) (bool, error) {
	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, prefix, valid, "no")
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}
