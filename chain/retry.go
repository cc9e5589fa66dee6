// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries is the number of times a failed request is sent
	// again.
	DefaultMaxRetries = 5

	// DefaultInitialInterval is the delay before the first retry.
	DefaultInitialInterval = 500 * time.Millisecond

	// DefaultMaxInterval caps the delay between retries.
	DefaultMaxInterval = 10 * time.Second
)

// RetryConfig is the retry policy of a RetryProvider.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// NewBackOff returns the backoff policy of cfg bound to ctx.
func (cfg RetryConfig) NewBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, cfg.MaxRetries), ctx)
}

// RetryProvider wraps a Provider, retrying failed requests with exponential
// backoff.  Client errors and transaction rejections are not retried.
type RetryProvider struct {
	Provider
	cfg RetryConfig
}

// NewRetryProvider wraps p with the given retry policy.
func NewRetryProvider(p Provider, cfg RetryConfig) *RetryProvider {
	return &RetryProvider{Provider: p, cfg: cfg}
}

// A compile-time assertion to ensure RetryProvider meets the Provider
// interface.
var _ Provider = (*RetryProvider)(nil)

func retry[T any](ctx context.Context, cfg RetryConfig, name string,
	f func() (T, error)) (T, error) {

	var result T
	op := func() error {
		var err error
		result, err = f()
		if err != nil && IsClientError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		log.Debugf("%s failed, retrying in %v: %v", name, d, err)
	}
	err := backoff.RetryNotify(op, cfg.NewBackOff(ctx), notify)
	return result, err
}

// BlockchainTip implements Provider.
func (r *RetryProvider) BlockchainTip(ctx context.Context) (int32, error) {
	return retry(ctx, r.cfg, "BlockchainTip", func() (int32, error) {
		return r.Provider.BlockchainTip(ctx)
	})
}

// GetTx implements Provider.
func (r *RetryProvider) GetTx(ctx context.Context,
	hash chainhash.Hash) (*wire.MsgTx, error) {

	return retry(ctx, r.cfg, "GetTx", func() (*wire.MsgTx, error) {
		return r.Provider.GetTx(ctx, hash)
	})
}

// SpendablesForAddress implements Provider.
func (r *RetryProvider) SpendablesForAddress(ctx context.Context,
	addr btcutil.Address) ([]Utxo, error) {

	return retry(ctx, r.cfg, "SpendablesForAddress", func() ([]Utxo, error) {
		return r.Provider.SpendablesForAddress(ctx, addr)
	})
}

// SendTx implements Provider.  Relaying the same transaction twice is
// harmless, so failed sends are retried too.
func (r *RetryProvider) SendTx(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	return retry(ctx, r.cfg, "SendTx", func() (*chainhash.Hash, error) {
		return r.Provider.SendTx(ctx, tx)
	})
}
