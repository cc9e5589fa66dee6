// Copyright (c) 2013-2015, 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/msigrecovery/batch"
	"github.com/btcsuite/msigrecovery/branch"
	"github.com/btcsuite/msigrecovery/cache"
	"github.com/btcsuite/msigrecovery/chain"
	"github.com/btcsuite/msigrecovery/cosign"
	"github.com/btcsuite/msigrecovery/oracle"
	"github.com/btcsuite/msigrecovery/recovery"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all
// subsystem loggers created from it will write to the backend.  When adding
// new subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by
// calling initLogRotator.
var (
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log     = backendLog.Logger("MSRC")
	brchLog = backendLog.Logger("BRCH")
	orclLog = backendLog.Logger("ORCL")
	cachLog = backendLog.Logger("CACH")
	rcvrLog = backendLog.Logger("RCVR")
	btchLog = backendLog.Logger("BTCH")
	csgnLog = backendLog.Logger("CSGN")
	chanLog = backendLog.Logger("CHAN")
)

// Initialize package-global logger variables.
func init() {
	branch.UseLogger(brchLog)
	oracle.UseLogger(orclLog)
	cache.UseLogger(cachLog)
	recovery.UseLogger(rcvrLog)
	batch.UseLogger(btchLog)
	cosign.UseLogger(csgnLog)
	chain.UseLogger(chanLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"MSRC": log,
	"BRCH": brchLog,
	"ORCL": orclLog,
	"CACH": cachLog,
	"RCVR": rcvrLog,
	"BTCH": btchLog,
	"CSGN": csgnLog,
	"CHAN": chanLog,
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	logRotator = r
	return nil
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.  Uninitialized subsystems are dynamically created as
// needed.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// logClosure is used to provide a closure over expensive logging operations
// so they don't have to be performed when the logging level doesn't warrant
// it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}

func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
