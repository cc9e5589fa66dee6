// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/msigrecovery/batch"
	"github.com/btcsuite/msigrecovery/branch"
	"github.com/btcsuite/msigrecovery/cache"
	"github.com/btcsuite/msigrecovery/chain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultAccountGap is the number of consecutive unused accounts
	// after which account search stops.
	DefaultAccountGap = 5

	// DefaultLeafGap is the number of leaves by which the lookahead
	// window of each chain grows.
	DefaultLeafGap = 5

	// DefaultMaxConcurrentFetches bounds the concurrent address lookups
	// of one account.
	DefaultMaxConcurrentFetches = 8
)

var (
	// ErrInsufficientBalance is returned when an account does not hold
	// enough to pay the fee of its sweep.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotDiscovered is returned when sweeping an account whose
	// discovery did not complete or found nothing.
	ErrNotDiscovered = errors.New("account not discovered")

	// ErrAddressMismatch is returned when a derived address differs from
	// the one it is expected or recorded to be.
	ErrAddressMismatch = errors.New("address mismatch")

	// ErrPkScriptMismatch is returned when an unspent output reported for
	// an account address does not pay to that address.
	ErrPkScriptMismatch = errors.New("unspent output does not pay to " +
		"the account")
)

// State is the progress of a ledger through the recovery phases.
type State uint8

const (
	StateInitialized State = iota
	StateOriginDiscovered
	StateDestinationDiscovered
	StateTransactionsBuilt
	StateExported
)

var stateStrings = map[State]string{
	StateInitialized:           "Initialized",
	StateOriginDiscovered:      "OriginDiscovered",
	StateDestinationDiscovered: "DestinationDiscovered",
	StateTransactionsBuilt:     "TransactionsBuilt",
	StateExported:              "Exported",
}

func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Status is the result of one recovery phase for one account.
type Status uint8

const (
	// StatusFound means the account exists.
	StatusFound Status = iota

	// StatusNotFound means the account is unused or unknown to the
	// oracle.
	StatusNotFound

	// StatusEmpty means the account holds nothing worth sweeping.
	StatusEmpty

	// StatusSigned means the sweep was built and signed with the local
	// keys.
	StatusSigned

	// StatusFailed means the phase failed for the account.  It is not
	// cached, so running the phase again retries it.
	StatusFailed
)

var statusStrings = map[Status]string{
	StatusFound:    "found",
	StatusNotFound: "not found",
	StatusEmpty:    "nothing to send",
	StatusSigned:   "signed",
	StatusFailed:   "failed",
}

func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Outcome reports what a phase did for one account.
type Outcome struct {
	Index   uint32
	Status  Status
	Balance btcutil.Amount

	// Address is the first origin address of a found account, or the
	// sweep target of a destination account.
	Address string

	// TxID is the hash of a signed sweep.
	TxID chainhash.Hash

	Err error
}

// Config holds the collaborators and parameters of a recovery.
type Config struct {
	Origin      *branch.Branch
	Destination *branch.Branch
	Provider    chain.Provider

	// Cache must be namespaced by the origin branch id.
	Cache *cache.Cache

	AccountGap   uint32
	LeafGap      uint32
	FirstAccount uint32

	// FeePerKb is the fee rate of the sweeps.
	FeePerKb btcutil.Amount

	MaxConcurrentFetches int
}

// Progress counts the work done so far.
type Progress struct {
	AccountsScanned uint32
	LeavesScanned  uint32
}

type knownAccount struct {
	external fn.Option[LeafSet]
	internal fn.Option[LeafSet]

	// found is set by origin discovery.  Unset, the account is a
	// tombstone and later phases skip it.
	found bool
}

// Ledger drives the recovery of the funds of an origin branch into a
// destination branch.  Every phase caches its per account results, so a
// phase run again, eg. after a crash, only works on the accounts it did
// not complete.  A Ledger is not safe for concurrent use, except for
// Progress.
type Ledger struct {
	cfg Config

	accounts       map[uint32]*knownAccount
	searchAccounts bool
	state          State

	accountsScanned atomic.Uint32
	leavesScanned  atomic.Uint32
}

// New creates a ledger, filling in defaults for unset parameters.
func New(cfg Config) (*Ledger, error) {
	switch {
	case cfg.Origin == nil || cfg.Destination == nil:
		return nil, errors.New("origin and destination branches are " +
			"required")
	case cfg.Provider == nil:
		return nil, errors.New("provider is required")
	case cfg.Cache == nil:
		return nil, errors.New("cache is required")
	case cfg.Cache.Namespace() != cfg.Origin.ID():
		return nil, fmt.Errorf("cache namespace %q does not belong to "+
			"origin branch %q", cfg.Cache.Namespace(), cfg.Origin.ID())
	}
	if cfg.AccountGap == 0 {
		cfg.AccountGap = DefaultAccountGap
	}
	if cfg.LeafGap == 0 {
		cfg.LeafGap = DefaultLeafGap
	}
	if cfg.FeePerKb == 0 {
		cfg.FeePerKb = batch.DefaultFeePerKb
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}

	return &Ledger{
		cfg:            cfg,
		accounts:       make(map[uint32]*knownAccount),
		searchAccounts: true,
	}, nil
}

// State returns the last phase completed.
func (l *Ledger) State() State {
	return l.state
}

func (l *Ledger) advance(s State) {
	if s > l.state {
		l.state = s
	}
}

// Progress returns the work counters.  It may be called concurrently with
// the phases.
func (l *Ledger) Progress() Progress {
	return Progress{
		AccountsScanned: l.accountsScanned.Load(),
		LeavesScanned:  l.leavesScanned.Load(),
	}
}

// AddKnownAccount restricts recovery to the given accounts instead of
// searching for them.  When external or internal is set, only the listed
// leaves of the account are checked, an unset one meaning no leaf of that
// chain; otherwise the leaves are searched.
func (l *Ledger) AddKnownAccount(index uint32, external,
	internal fn.Option[LeafSet]) {

	l.accounts[index] = &knownAccount{
		external: external,
		internal: internal,
	}
	l.searchAccounts = false
}

// knownIndexes returns the indexes of the accounts known so far, in
// ascending order.
func (l *Ledger) knownIndexes() []uint32 {
	indexes := make([]uint32, 0, len(l.accounts))
	for index := range l.accounts {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i] < indexes[j]
	})
	return indexes
}

// foundIndexes returns the indexes of the accounts found by origin
// discovery, in ascending order.
func (l *Ledger) foundIndexes() []uint32 {
	var indexes []uint32
	for _, index := range l.knownIndexes() {
		if l.accounts[index].found {
			indexes = append(indexes, index)
		}
	}
	return indexes
}

type recordEncoder interface {
	encode() ([]byte, error)
}

func (l *Ledger) saveRecord(cat cache.Category, index uint32,
	rec recordEncoder) error {

	b, err := rec.encode()
	if err != nil {
		return err
	}
	return l.cfg.Cache.Save(cat, index, b)
}

func loadRecord[T any](c *cache.Cache, cat cache.Category, index uint32,
	decode func([]byte) (T, error)) (fn.Option[T], error) {

	b, err := c.Load(cat, index)
	if err != nil {
		return fn.None[T](), err
	}
	if b.IsNone() {
		return fn.None[T](), nil
	}
	rec, err := decode(b.UnwrapOr(nil))
	if err != nil {
		return fn.None[T](), err
	}
	return fn.Some(rec), nil
}

func (l *Ledger) loadOrigin(index uint32) (fn.Option[*originRecord], error) {
	return loadRecord(
		l.cfg.Cache, cache.OriginAccount, index, decodeOriginRecord,
	)
}

func (l *Ledger) loadDestination(
	index uint32) (fn.Option[*destinationRecord], error) {

	return loadRecord(
		l.cfg.Cache, cache.DestinationAccount, index,
		decodeDestinationRecord,
	)
}

func (l *Ledger) loadTx(index uint32) (fn.Option[*txRecord], error) {
	return loadRecord(l.cfg.Cache, cache.Transaction, index, decodeTxRecord)
}

// CreateAndSignTxs builds and signs the sweep of every found account not
// swept yet.  Accounts with nothing to send are recorded as such.
func (l *Ledger) CreateAndSignTxs(ctx context.Context) []Outcome {
	var outcomes []Outcome
	for _, index := range l.foundIndexes() {
		outcomes = append(outcomes, l.createAndSignTxOnce(ctx, index))
	}
	l.advance(StateTransactionsBuilt)
	return outcomes
}

func txOutcome(index uint32, rec *txRecord) Outcome {
	if rec.Tx == nil {
		return Outcome{
			Index:   index,
			Status:  StatusEmpty,
			Balance: rec.Balance,
		}
	}
	return Outcome{
		Index:   index,
		Status:  StatusSigned,
		Balance: rec.Balance,
		TxID:    rec.Tx.Hash(),
	}
}

func (l *Ledger) createAndSignTxOnce(ctx context.Context,
	index uint32) Outcome {

	failed := func(err error) Outcome {
		log.Errorf("Account %d: cannot create sweep: %v", index, err)
		return Outcome{Index: index, Status: StatusFailed, Err: err}
	}

	cached, err := l.loadTx(index)
	if err != nil {
		return failed(err)
	}
	if cached.IsSome() {
		return txOutcome(index, cached.UnwrapOr(nil))
	}

	rec, err := l.createAndSignTx(ctx, index)
	if errors.Is(err, ErrInsufficientBalance) {
		log.Infof("Account %d balance: %v, nothing to send", index,
			rec.Balance)
	} else if err != nil {
		return failed(err)
	}
	if err := l.saveRecord(cache.Transaction, index, rec); err != nil {
		return failed(err)
	}
	return txOutcome(index, rec)
}

// CreateAndSignTx builds the sweep of a found account into its destination
// address and signs it with the local keys of the origin branch.
// ErrInsufficientBalance is returned when the account cannot pay the fee.
// The result is not cached.
func (l *Ledger) CreateAndSignTx(ctx context.Context,
	index uint32) (*batch.Transaction, error) {

	rec, err := l.createAndSignTx(ctx, index)
	if err != nil {
		return nil, err
	}
	return rec.Tx, nil
}

// cachedTxs returns the cached sweeps of the found accounts.
func (l *Ledger) cachedTxs() ([]*batch.Transaction, error) {
	var txs []*batch.Transaction
	for _, index := range l.foundIndexes() {
		rec, err := l.loadTx(index)
		if err != nil {
			return nil, err
		}
		rec.WhenSome(func(r *txRecord) {
			if r.Tx != nil {
				txs = append(txs, r.Tx)
			}
		})
	}
	return txs, nil
}

// TotalToRecover sums the outputs of the sweeps built so far.
func (l *Ledger) TotalToRecover() (btcutil.Amount, error) {
	txs, err := l.cachedTxs()
	if err != nil {
		return 0, err
	}
	var total btcutil.Amount
	for _, tx := range txs {
		total += tx.TotalOut()
	}
	return total, nil
}

// ExportToBatch collects the sweeps into a batch, validates it and writes
// it to path.
func (l *Ledger) ExportToBatch(ctx context.Context,
	path string) (*batch.Batch, error) {

	txs, err := l.cachedTxs()
	if err != nil {
		return nil, err
	}
	b := batch.New(
		l.cfg.Origin.MasterKeyNames(), l.cfg.Destination.MasterKeyNames(),
		txs,
	)
	if _, err := batch.Validate(ctx, b, nil); err != nil {
		return nil, err
	}
	if err := b.WriteFile(path); err != nil {
		return nil, err
	}
	l.advance(StateExported)
	return b, nil
}
