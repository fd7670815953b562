/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package entra is a client of the Microsoft Entra Verified ID request service.
package entra

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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
)

// Request statuses reported to the callback endpoint.
const (
	StatusRequestRetrieved     = "request_retrieved"
	StatusPresentationVerified = "presentation_verified"
	StatusPresentationError    = "presentation_error"
)

const maxBodySize = 1 << 20

var logger = log.New("aries-exchanger/client/entra")

// PresentationRequest asks the request service for a presentation.
type PresentationRequest struct {
	IncludeQRCode        bool                  `json:"includeQRCode"`
	IncludeReceipt       bool                  `json:"includeReceipt"`
	Authority            string                `json:"authority"`
	Registration         Registration          `json:"registration"`
	Callback             Callback              `json:"callback"`
	RequestedCredentials []RequestedCredential `json:"requestedCredentials"`
}

// Registration is the relying party display information.
type Registration struct {
	ClientName string `json:"clientName"`
	Purpose    string `json:"purpose,omitempty"`
}

// Callback is where the request service reports progress. Headers are sent back verbatim.
type Callback struct {
	URL     string            `json:"url"`
	State   string            `json:"state"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RequestedCredential names an accepted credential type.
type RequestedCredential struct {
	Type            string         `json:"type"`
	AcceptedIssuers []string       `json:"acceptedIssuers,omitempty"`
	Configuration   *Configuration `json:"configuration,omitempty"`
}

// Configuration of credential validation by the request service.
type Configuration struct {
	Validation Validation `json:"validation"`
}

// Validation options.
type Validation struct {
	AllowRevoked         bool `json:"allowRevoked"`
	ValidateLinkedDomain bool `json:"validateLinkedDomain"`
}

// PresentationResponse identifies a created presentation request.
type PresentationResponse struct {
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
	Expiry    int64  `json:"expiry"`
}

// CallbackEvent is the body posted to the callback endpoint.
type CallbackEvent struct {
	RequestID     string         `json:"requestId"`
	RequestStatus string         `json:"requestStatus"`
	State         string         `json:"state"`
	Subject       string         `json:"subject,omitempty"`
	Receipt       *Receipt       `json:"receipt,omitempty"`
	Error         *ErrorResponse `json:"error,omitempty"`
}

// Receipt carries the tokens the wallet presented.
type Receipt struct {
	VPToken string `json:"vp_token"`
	IDToken string `json:"id_token,omitempty"`
}

// ErrorResponse is an error reported by the request service.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Opt configures the client.
type Opt func(c *Client)

// WithHTTPClient sets the HTTP client used for token and API calls.
func WithHTTPClient(client *http.Client) Opt {
	return func(c *Client) {
		c.httpClient = client
	}
}

// Client calls the request service with client credential tokens.
type Client struct {
	httpClient *http.Client
}

// New returns a client.
func New(opts ...Opt) *Client {
	c := &Client{httpClient: &http.Client{Timeout: 10 * time.Second}}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreatePresentationRequest creates a presentation request.
func (c *Client) CreatePresentationRequest(ctx context.Context, cfg *exchange.EntraConfig,
	req *PresentationRequest) (*PresentationResponse, error) {
	if cfg.OAuth2 == nil {
		return nil, errors.New("entra oauth2 credentials are not configured")
	}

	endpoint, err := url.JoinPath(cfg.APIURL, "verifiableCredentials", "createPresentationRequest")
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal presentation request: %w", err)
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.OAuth2.ClientID,
		ClientSecret: cfg.OAuth2.ClientSecret,
		TokenURL:     cfg.OAuth2.TokenURL,
		Scopes:       cfg.OAuth2.Scopes,
	}

	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create presentation request: %w", err)
	}

	defer closeResponse(resp.Body)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read presentation request response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var e struct {
			Error *ErrorResponse `json:"error"`
		}

		if json.Unmarshal(respBody, &e) == nil && e.Error != nil {
			return nil, fmt.Errorf("create presentation request: status %d: %w", resp.StatusCode, e.Error)
		}

		return nil, fmt.Errorf("create presentation request: status %d", resp.StatusCode)
	}

	pr := &PresentationResponse{}

	if err = json.Unmarshal(respBody, pr); err != nil {
		return nil, fmt.Errorf("decode presentation request response: %w", err)
	}

	if pr.RequestID == "" {
		return nil, errors.New("presentation request response has no request id")
	}

	return pr, nil
}

// ParseCallbackEvent decodes a callback body.
func ParseCallbackEvent(b []byte) (*CallbackEvent, error) {
	ev := &CallbackEvent{}

	if err := json.Unmarshal(b, ev); err != nil {
		return nil, fmt.Errorf("decode callback event: %w", err)
	}

	if ev.RequestID == "" || ev.RequestStatus == "" {
		return nil, errors.New("callback event requires requestId and requestStatus")
	}

	return ev, nil
}

func closeResponse(c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Errorf("failed to close response body: %v", err)
	}
}
