// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
)

func TestParseLeafPath(t *testing.T) {
	account, chain, leaf, err := parseLeafPath("/3/1/17")
	require.NoError(t, err)
	require.Equal(t, [3]uint32{3, 1, 17}, [3]uint32{account, chain, leaf})

	for _, bad := range []string{"", "1/2", "1/2/3/4", "1/x/3", "1/2/-3",
		"2147483648/0/0"} {

		_, _, _, err := parseLeafPath(bad)
		require.Error(t, err, bad)
	}
}

func TestParseAndSetDebugLevels(t *testing.T) {
	require.NoError(t, parseAndSetDebugLevels("debug"))
	require.NoError(t, parseAndSetDebugLevels("RCVR=trace,CHAN=warn"))

	require.Error(t, parseAndSetDebugLevels("loud"))
	require.Error(t, parseAndSetDebugLevels("RCVR"))
	require.Error(t, parseAndSetDebugLevels("NOPE=info"))
	require.Error(t, parseAndSetDebugLevels("RCVR=loud"))

	setLogLevels(defaultLogLevel)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		errType flags.ErrorType
	}{{
		name:    "create without destination",
		args:    []string{"create", "--origin", "xpub", "--save", "b.json"},
		errType: flags.ErrRequired,
	}, {
		name:    "cosign without load",
		args:    []string{"cosign", "--save", "b.json"},
		errType: flags.ErrRequired,
	}, {
		name: "cosign with origin",
		args: []string{"cosign", "--load", "a.json", "--save", "b.json",
			"--origin", "xpub"},
		errType: flags.ErrUnknownFlag,
	}, {
		name:    "broadcast with seed",
		args:    []string{"broadcast", "--load", "a.json", "--seed", "00"},
		errType: flags.ErrUnknownFlag,
	}, {
		name: "unknown template",
		args: []string{"address", "--branch", "xpub", "--template",
			"bip44", "0/0/0"},
		errType: flags.ErrInvalidChoice,
	}, {
		name:    "unknown command",
		args:    []string{"sweep"},
		errType: flags.ErrUnknownCommand,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := newParser().ParseArgs(test.args)
			var flagErr *flags.Error
			require.True(t, errors.As(err, &flagErr), "%v", err)
			require.Equal(t, test.errType, flagErr.Type)
		})
	}
}

func TestCommandDefaults(t *testing.T) {
	parser := newParser()

	create, ok := parser.Find("create").Data().(*createCommand)
	require.True(t, ok)
	require.Equal(t, defaultInsightURL, create.Insight)
	require.Equal(t, defaultTemplate, create.Template)
	require.NotZero(t, create.FeeRate.Amount)

	validate, ok := parser.Find("validate").Data().(*validateCommand)
	require.True(t, ok)
	require.False(t, validate.Insight.ExplicitlySet())
}
