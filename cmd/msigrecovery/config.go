// Copyright (c) 2013-2016, 2026 The btcsuite developers
// Copyright (c) 2015 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/msigrecovery/branch"
	"github.com/btcsuite/msigrecovery/chain"
	"github.com/btcsuite/msigrecovery/internal/cfgutil"
	"github.com/btcsuite/msigrecovery/oracle"
)

const (
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "msigrecovery.log"
	defaultCacheName   = "cache.db"
	defaultInsightURL  = "http://127.0.0.1:4001/"
	defaultInsightPort = "4001"
	defaultTemplate    = "bip32"
)

var defaultAppDataDir = btcutil.AppDataDir("msigrecovery", false)

// config holds the options shared by every command.
type config struct {
	AppDataDir string `short:"A" long:"appdata" description:"Application data directory holding the recovery cache"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	TestNet3   bool   `long:"testnet" description:"Use the test Bitcoin network (version 3)"`
	RegTest    bool   `long:"regtest" description:"Use the regression test network"`
	SimNet     bool   `long:"simnet" description:"Use the simulation test network"`
}

var (
	cfg = config{
		AppDataDir: defaultAppDataDir,
		DebugLevel: defaultLogLevel,
	}

	activeNet = &chaincfg.MainNetParams
)

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		setLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// errShowSubsystems is returned by loadConfig when the subsystems were
// listed and the command should not run.
var errShowSubsystems = errors.New("subsystems listed")

// loadConfig validates the global options, selects the network and starts
// logging.  Every command calls it before doing any work.
func loadConfig() error {
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		return errShowSubsystems
	}

	numNets := 0
	if cfg.TestNet3 {
		numNets++
		activeNet = &chaincfg.TestNet3Params
	}
	if cfg.RegTest {
		numNets++
		activeNet = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		activeNet = &chaincfg.SimNetParams
	}
	if numNets > 1 {
		return errors.New("the testnet, regtest and simnet params can't " +
			"be used together -- choose one")
	}

	cfg.AppDataDir = cfgutil.CleanAndExpandPath(cfg.AppDataDir)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDataDir, defaultLogDirname)
	}
	cfg.LogDir = cfgutil.CleanAndExpandPath(cfg.LogDir)

	logFile := filepath.Join(cfg.LogDir, activeNet.Name, defaultLogFilename)
	if err := initLogRotator(logFile); err != nil {
		return err
	}

	return parseAndSetDebugLevels(cfg.DebugLevel)
}

// cachePath returns the path of the recovery cache of the active network.
func cachePath() string {
	return filepath.Join(cfg.AppDataDir, activeNet.Name, defaultCacheName)
}

func newOracle(url string) (branch.Oracle, error) {
	return oracle.New(url), nil
}

// parseBranch builds a branch from a comma separated key source list.
// Oracle sources register unknown keychains when regs is set.
func parseBranch(sources, templateName string,
	regs *branch.Registrations) (*branch.Branch, error) {

	template, err := branch.ParseTemplate(templateName)
	if err != nil {
		return nil, err
	}
	keySources, err := branch.ParseKeySources(sources, &branch.ParseConfig{
		Net:           activeNet,
		NewOracle:     newOracle,
		Registrations: regs,
	})
	if err != nil {
		return nil, err
	}
	return branch.New(keySources, template, activeNet)
}

// newProvider connects to the insight service at rawURL, failing when it is
// not reachable.
func newProvider(rawURL string) (chain.Provider, error) {
	url, err := cfgutil.NormalizeURL(rawURL, defaultInsightPort)
	if err != nil {
		return nil, fmt.Errorf("invalid insight url: %w", err)
	}
	provider := chain.NewRetryProvider(
		chain.NewInsight(url), chain.DefaultRetryConfig(),
	)
	tip, err := provider.BlockchainTip(appCtx)
	if err != nil {
		return nil, fmt.Errorf("insight node at %s not reachable: %w", url,
			err)
	}
	log.Infof("Connected to insight node at %s, tip height %d", url, tip)
	return provider, nil
}
