/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package callback notifies relying parties when an exchange reaches a terminal state.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
)

const (
	defaultSendTimeout = 10 * time.Second
	defaultMaxRetries  = 3
)

var logger = log.New("aries-exchanger/callback")

// Event is the body posted to the relying party webhook.
type Event struct {
	ID         string         `json:"id"`
	ExchangeID string         `json:"exchangeId"`
	WorkflowID string         `json:"workflowId"`
	State      exchange.State `json:"state"`
	Step       string         `json:"step"`
	Sequence   int            `json:"sequence"`
}

// NewEvent returns the event describing ex.
func NewEvent(ex *exchange.Exchange) Event {
	return Event{
		ID:         uuid.NewString(),
		ExchangeID: ex.ID,
		WorkflowID: ex.WorkflowID,
		State:      ex.State,
		Step:       ex.Step,
		Sequence:   ex.Sequence,
	}
}

// Opt configures the notifier.
type Opt func(n *Notifier)

// WithHTTPClient sets the client used for webhook and token requests.
func WithHTTPClient(client *http.Client) Opt {
	return func(n *Notifier) {
		n.client = client
	}
}

// WithSendTimeout bounds a single delivery attempt.
func WithSendTimeout(d time.Duration) Opt {
	return func(n *Notifier) {
		n.sendTimeout = d
	}
}

// WithRetry sets the retry count and the initial backoff interval.
func WithRetry(maxRetries uint64, initialInterval time.Duration) Opt {
	return func(n *Notifier) {
		n.maxRetries = maxRetries
		n.initialInterval = initialInterval
	}
}

// Notifier delivers exchange events to relying party webhooks.
type Notifier struct {
	client          *http.Client
	sendTimeout     time.Duration
	maxRetries      uint64
	initialInterval time.Duration

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// New returns a notifier.
func New(opts ...Opt) *Notifier {
	n := &Notifier{
		client:          http.DefaultClient,
		sendTimeout:     defaultSendTimeout,
		maxRetries:      defaultMaxRetries,
		initialInterval: backoff.DefaultInitialInterval,
		sources:         map[string]oauth2.TokenSource{},
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	return e.msg
}

// Notify posts ev to the webhook of cfg. A nil or empty cfg is a no-op.
func (n *Notifier) Notify(ctx context.Context, cfg *exchange.CallbackConfig, ev Event) error {
	if cfg == nil || cfg.URL == "" {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal callback event: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.initialInterval

	attempt := 0

	op := func() error {
		attempt++

		err := n.send(ctx, cfg, body)
		if err == nil {
			return nil
		}

		var se *statusError
		if errors.As(err, &se) {
			switch {
			case se.status == http.StatusUnauthorized && cfg.OAuth2 != nil:
				n.dropToken(cfg.OAuth2)
			case se.status == http.StatusTooManyRequests:
				// retried
			case se.status >= http.StatusBadRequest && se.status < http.StatusInternalServerError:
				return backoff.Permanent(err)
			}
		}

		logger.Warnf("callback attempt %d to %s failed: %s", attempt, cfg.URL, err)

		return err
	}

	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, n.maxRetries), ctx))
	if err != nil {
		return fmt.Errorf("callback to %s failed after %d attempts: %w", cfg.URL, attempt, err)
	}

	logger.Infof("callback %s for exchange %s sent to %s", ev.ID, ev.ExchangeID, cfg.URL)

	return nil
}

func (n *Notifier) send(ctx context.Context, cfg *exchange.CallbackConfig, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create new http post request for %s: %w", cfg.URL, err))
	}

	req.Header.Add("Content-Type", "application/json")

	if cfg.OAuth2 != nil {
		token, err := n.tokenSource(cfg.OAuth2).Token()
		if err != nil {
			return fmt.Errorf("obtain access token: %w", err)
		}

		token.SetAuthHeader(req)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification to %s: %w", cfg.URL, err)
	}

	defer closeResponse(resp.Body)

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	return &statusError{
		status: resp.StatusCode,
		msg:    fmt.Sprintf("notification was sent to %s, but %s was received", cfg.URL, resp.Status),
	}
}

func sourceKey(cfg *exchange.OAuth2Config) string {
	return cfg.TokenURL + "|" + cfg.ClientID + "|" + strings.Join(cfg.Scopes, " ")
}

// tokenSource returns a cached, self refreshing client credentials token source.
func (n *Notifier) tokenSource(cfg *exchange.OAuth2Config) oauth2.TokenSource {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := sourceKey(cfg)

	if ts, ok := n.sources[key]; ok {
		return ts
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	ts := cc.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, n.client))
	n.sources[key] = ts

	return ts
}

func (n *Notifier) dropToken(cfg *exchange.OAuth2Config) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.sources, sourceKey(cfg))
}

func closeResponse(c io.Closer) {
	err := c.Close()
	if err != nil {
		logger.Errorf("Failed to close response body")
	}
}
