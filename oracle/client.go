// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package oracle implements a client of the remote key-custody service
// cosigning multisig accounts.  The service keeps one member key per
// keychain, a keychain being identified by the other members' keys.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/msigrecovery/branch"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	// keychainURNPrefix prefixes the key a keychain id is derived from.
	keychainURNPrefix = "urn:digitaloracle.co:"

	// walletAgent identifies this tool to the service.
	walletAgent = "msigrecovery"

	// defaultRulesetID is the ruleset new keychains are created with.
	defaultRulesetID = "default"

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 4
	maxResponseSize   = 1 << 20
)

// ErrNoOracleKey is returned when the service answers with no key besides
// the ones it was queried with.
var ErrNoOracleKey = errors.New("oracle returned no key of its own")

// KeychainID returns the identifier of the keychain whose first member key
// is keys[0].
func KeychainID(keys []*hdkeychain.ExtendedKey) (string, error) {
	if len(keys) == 0 {
		return "", errors.New("keychain id needs at least one key")
	}
	pub, err := keys[0].Neuter()
	if err != nil {
		return "", err
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL,
		[]byte(keychainURNPrefix+pub.String()))
	return id.String(), nil
}

// Client talks to one oracle service.  It satisfies branch.Oracle.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithMaxRetries sets the number of times a failed request is sent again.
func WithMaxRetries(n uint64) Option {
	return func(cl *Client) {
		cl.maxRetries = n
	}
}

// New returns a client of the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		http:       &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// A compile-time assertion to ensure Client meets the branch.Oracle
// interface.
var _ branch.Oracle = (*Client)(nil)

type keychainKeys struct {
	Default []string `json:"default"`
}

type keychainResponse struct {
	Keys keychainKeys `json:"keys"`
}

type createRequest struct {
	WalletAgent string            `json:"walletAgent"`
	RulesetID   string            `json:"rulesetId"`
	Parameters  json.RawMessage   `json:"parameters,omitempty"`
	PII         map[string]string `json:"pii"`
	Keys        keychainKeys      `json:"keys"`
	ManagerURL  string            `json:"managerUrl,omitempty"`
}

// statusError is returned for requests answered with a non-success status.
type statusError struct {
	url    string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.url, http.StatusText(e.status),
		strings.TrimSpace(e.body))
}

func (c *Client) keychainURL(keys []*hdkeychain.ExtendedKey) (string, error) {
	id, err := KeychainID(keys)
	if err != nil {
		return "", err
	}
	return c.baseURL + "keychains/" + id, nil
}

// do sends a request, retrying transport and server errors.
func (c *Client) do(ctx context.Context, method, url string, body []byte,
	result interface{}) error {

	requestID := uuid.New().String()
	op := func() error {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-Id", requestID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body,
			maxResponseSize))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := &statusError{
				url:    url,
				status: resp.StatusCode,
				body:   string(respBody),
			}
			if resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid response "+
				"from %s: %w", url, err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	notify := func(err error, d time.Duration) {
		log.Debugf("Request %s %s failed, retrying in %v: %v", method,
			url, d, err)
	}
	return backoff.RetryNotify(op, b, notify)
}

// Get returns the oracle key of the keychain made of keys.
func (c *Client) Get(ctx context.Context,
	keys []*hdkeychain.ExtendedKey) (*hdkeychain.ExtendedKey, error) {

	url, err := c.keychainURL(keys)
	if err != nil {
		return nil, err
	}

	var resp keychainResponse
	err = c.do(ctx, http.MethodGet, url, nil, &resp)
	var statusErr *statusError
	switch {
	case errors.As(err, &statusErr) && statusErr.status == http.StatusNotFound:
		return nil, branch.Error{
			ErrorCode:   branch.ErrUnknownKeychain,
			Description: url,
		}
	case err != nil:
		return nil, err
	case len(resp.Keys.Default) == 0:
		return nil, branch.Error{
			ErrorCode:   branch.ErrUnknownKeychain,
			Description: url,
		}
	}

	known := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		pub, err := key.Neuter()
		if err != nil {
			return nil, err
		}
		known[pub.String()] = struct{}{}
	}
	for _, s := range resp.Keys.Default {
		if _, ok := known[s]; ok {
			continue
		}
		key, err := hdkeychain.NewKeyFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid oracle key %q: %w", s, err)
		}
		log.Debugf("Oracle key for keychain %s: %s", url, s)
		return key, nil
	}
	return nil, ErrNoOracleKey
}

// Create registers the keychain made of keys with the service.
func (c *Client) Create(ctx context.Context, keys []*hdkeychain.ExtendedKey,
	reg branch.Registration) error {

	url, err := c.keychainURL(keys)
	if err != nil {
		return err
	}

	pubs := make([]string, len(keys))
	for i, key := range keys {
		pub, err := key.Neuter()
		if err != nil {
			return err
		}
		pubs[i] = pub.String()
	}
	body, err := json.Marshal(createRequest{
		WalletAgent: walletAgent,
		RulesetID:   defaultRulesetID,
		Parameters:  reg.Parameters,
		PII:         reg.PersonalInfo,
		Keys:        keychainKeys{Default: pubs},
		ManagerURL:  reg.Manager,
	})
	if err != nil {
		return err
	}

	log.Infof("Creating oracle keychain %s", url)
	return c.do(ctx, http.MethodPost, url, body, nil)
}
