/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package vcapi is a client of remote VC-API exchange services.
package vcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
)

const (
	defaultMaxRetries = 3
	defaultInterval   = 200 * time.Millisecond
	maxBodySize       = 1 << 20
)

var logger = log.New("aries-exchanger/client/vcapi")

// CreateRequest is the body of a remote exchange creation.
type CreateRequest struct {
	TTL       int64                  `json:"ttl,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Exchange is the remote view of an exchange.
type Exchange struct {
	ID        string                 `json:"id"`
	State     string                 `json:"state"`
	Sequence  int                    `json:"sequence,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Opt configures the client.
type Opt func(c *Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Opt {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRetry sets the retry policy of exchange reads.
func WithRetry(maxRetries uint64, initialInterval time.Duration) Opt {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.interval = initialInterval
	}
}

// Client talks to remote exchangers.
type Client struct {
	httpClient *http.Client
	maxRetries uint64
	interval   time.Duration
}

// New returns a client.
func New(opts ...Opt) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: defaultMaxRetries,
		interval:   defaultInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreateExchange creates a remote exchange and returns its URL.
func (c *Client) CreateExchange(ctx context.Context, cfg *exchange.RemoteConfig, req *CreateRequest) (string, error) {
	endpoint, err := url.JoinPath(cfg.ExchangerURL, "exchanges")
	if err != nil {
		return "", fmt.Errorf("invalid exchanger url: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal create request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	authorize(httpReq, cfg)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("create remote exchange: %w", err)
	}

	defer closeResponse(resp.Body)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read create response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("create remote exchange: status %d: %s", resp.StatusCode, respBody)
	}

	return exchangeLocation(endpoint, resp.Header.Get("Location"), respBody)
}

// GetExchange reads a remote exchange. Network errors and server errors are retried.
func (c *Client) GetExchange(ctx context.Context, cfg *exchange.RemoteConfig, exchangeURL string) (*Exchange, error) {
	var ex *Exchange

	op := func() error {
		var err error

		ex, err = c.getExchange(ctx, cfg, exchangeURL)

		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.interval

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx),
		func(err error, d time.Duration) {
			logger.Debugf("read of %s failed, retrying in %s: %v", exchangeURL, d, err)
		})
	if err != nil {
		return nil, err
	}

	return ex, nil
}

func (c *Client) getExchange(ctx context.Context, cfg *exchange.RemoteConfig, exchangeURL string) (*Exchange, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exchangeURL, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	authorize(req, cfg)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read remote exchange: %w", err)
	}

	defer closeResponse(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read remote exchange body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("read remote exchange: status %d", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("read remote exchange: status %d: %s", resp.StatusCode, body))
	}

	ex, err := decodeExchange(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	return ex, nil
}

// decodeExchange accepts the exchange either bare or wrapped in an "exchange" member.
func decodeExchange(body []byte) (*Exchange, error) {
	var env struct {
		Exchange *Exchange `json:"exchange"`
	}

	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode remote exchange: %w", err)
	}

	if env.Exchange != nil {
		return env.Exchange, nil
	}

	ex := &Exchange{}

	if err := json.Unmarshal(body, ex); err != nil {
		return nil, fmt.Errorf("decode remote exchange: %w", err)
	}

	if ex.State == "" {
		return nil, errors.New("remote exchange has no state")
	}

	return ex, nil
}

func exchangeLocation(endpoint, location string, body []byte) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}

	if location != "" {
		ref, err := url.Parse(location)
		if err != nil {
			return "", fmt.Errorf("invalid location header: %w", err)
		}

		return base.ResolveReference(ref).String(), nil
	}

	var created struct {
		ID string `json:"id"`
	}

	if err = json.Unmarshal(body, &created); err != nil || created.ID == "" {
		return "", errors.New("remote exchanger returned neither location nor exchange id")
	}

	return url.JoinPath(endpoint, created.ID)
}

func authorize(req *http.Request, cfg *exchange.RemoteConfig) {
	if cfg.Capability != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Capability)
	}
}

func closeResponse(c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Errorf("failed to close response body: %v", err)
	}
}
