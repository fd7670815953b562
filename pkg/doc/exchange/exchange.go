/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package exchange defines the exchange record tracked across a presentation request/response cycle.
//
// Exchange values are never mutated in place: every transition returns a new Exchange with an
// incremented Sequence, which the caller persists with a single write.
package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"
)

// State of an exchange.
type State string

const (
	// StatePending is the state of a freshly created exchange.
	StatePending State = "pending"
	// StateActive is set once the wallet fetched the authorization request.
	StateActive State = "active"
	// StateComplete is set once a presentation was verified and the relying party notified.
	StateComplete State = "complete"
	// StateInvalid is the terminal failure state.
	StateInvalid State = "invalid"
)

// ErrInvalidTransition is returned when a transition is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid exchange state transition")

// Terminal reports whether no further protocol step is accepted in this state.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateInvalid
}

// OIDC holds the one-time authorization code issued on completion and the OAuth state the relying
// party created the exchange with.
type OIDC struct {
	Code  string `json:"code,omitempty"`
	State string `json:"state,omitempty"`
}

// Exchange tracks one presentation request/response cycle with a wallet.
type Exchange struct {
	ID              string    `json:"id"`
	WorkflowID      string    `json:"workflowId"`
	Sequence        int       `json:"sequence"`
	TTL             int64     `json:"ttl"`
	State           State     `json:"state"`
	Variables       Variables `json:"variables"`
	Step            string    `json:"step"`
	Challenge       string    `json:"challenge"`
	AccessToken     string    `json:"accessToken"`
	CreatedAt       time.Time `json:"createdAt"`
	RecordExpiresAt time.Time `json:"recordExpiresAt"`
	OIDC            OIDC      `json:"oidc"`
}

// Variables holds protocol artifacts of an exchange.
type Variables struct {
	AuthorizationRequest *AuthorizationRequest  `json:"authorizationRequest,omitempty"`
	Results              map[string]*StepResult `json:"results,omitempty"`
	Untrusted            map[string]interface{} `json:"untrusted,omitempty"`
	Internal             *Internal              `json:"internal,omitempty"`
}

// AuthorizationRequest is the outgoing request kept for re-validation of the response.
type AuthorizationRequest struct {
	PresentationDefinition *presexch.PresentationDefinition `json:"presentation_definition"`
	ClientID               string                           `json:"client_id"`
	Nonce                  string                           `json:"nonce"`
	State                  string                           `json:"state"`
	ResponseMode           string                           `json:"response_mode"`
	ResponseURI            string                           `json:"response_uri,omitempty"`
	ExpectedOrigins        []string                         `json:"expected_origins,omitempty"`
	JWT                    string                           `json:"jwt,omitempty"`
}

// StepResult records the verification outcome of a step.
type StepResult struct {
	Verified               bool            `json:"verified"`
	Errors                 []string        `json:"errors,omitempty"`
	VerifiablePresentation json.RawMessage `json:"verifiablePresentation,omitempty"`
	Issuers                []string        `json:"issuers,omitempty"`
	VerifiedAt             time.Time       `json:"verifiedAt"`
}

// Internal holds server-side secrets that are never returned to clients.
type Internal struct {
	WebhookToken      string `json:"webhookToken,omitempty"`
	RemoteExchangeURL string `json:"remoteExchangeUrl,omitempty"`
}

// Params are the values needed to create an exchange. Retention extends the storage deletion
// horizon past the business expiry. OIDCState comes from the authenticated relying party only.
type Params struct {
	ID          string
	WorkflowID  string
	Step        string
	Challenge   string
	AccessToken string
	TTL         time.Duration
	Retention   time.Duration
	OIDCState   string
	Untrusted   map[string]interface{}
	Internal    *Internal
}

// New creates a pending exchange.
func New(p *Params, now time.Time) (Exchange, error) {
	if p.ID == "" || p.WorkflowID == "" {
		return Exchange{}, errors.New("exchange id and workflow id are mandatory")
	}

	if p.TTL <= 0 {
		return Exchange{}, fmt.Errorf("invalid exchange ttl %s", p.TTL)
	}

	retention := p.Retention
	if retention < 0 {
		retention = 0
	}

	createdAt := now.UTC().Truncate(time.Millisecond)

	return Exchange{
		ID:              p.ID,
		WorkflowID:      p.WorkflowID,
		TTL:             int64(p.TTL / time.Second),
		State:           StatePending,
		Step:            p.Step,
		Challenge:       p.Challenge,
		AccessToken:     p.AccessToken,
		CreatedAt:       createdAt,
		RecordExpiresAt: createdAt.Add(p.TTL + retention),
		OIDC:            OIDC{State: p.OIDCState},
		Variables: Variables{
			Untrusted: copyMap(p.Untrusted),
			Internal:  copyInternal(p.Internal),
		},
	}, nil
}

// ExpiresAt returns the business expiry of the exchange.
func (e Exchange) ExpiresAt() time.Time {
	return e.CreatedAt.Add(time.Duration(e.TTL) * time.Second)
}

// Expired reports whether now is past the exchange expiry.
func (e Exchange) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// AcceptsResponse reports whether an authorization response may be processed.
func (e Exchange) AcceptsResponse() bool {
	return e.State == StatePending || e.State == StateActive
}

// Activate records the outgoing authorization request and moves a pending exchange to active.
func (e Exchange) Activate(req *AuthorizationRequest) (Exchange, error) {
	if !e.AcceptsResponse() {
		return Exchange{}, fmt.Errorf("%w: activate from %s", ErrInvalidTransition, e.State)
	}

	next := e.next()
	next.State = StateActive

	if req != nil {
		r := *req
		next.Variables.AuthorizationRequest = &r
	}

	return next, nil
}

// Complete records a successful step result and the one-time code.
func (e Exchange) Complete(result *StepResult, code string) (Exchange, error) {
	if !e.AcceptsResponse() {
		return Exchange{}, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, e.State)
	}

	next := e.next()
	next.State = StateComplete
	next.OIDC.Code = code

	if result != nil {
		next.Variables.Results[e.Step] = result
	}

	return next, nil
}

// Advance records a successful step result and moves an exchange to step with a fresh challenge.
// The exchange stays active and the request of the finished step is dropped, so the wallet has to
// fetch the request of the new step.
func (e Exchange) Advance(result *StepResult, step, challenge string) (Exchange, error) {
	if !e.AcceptsResponse() {
		return Exchange{}, fmt.Errorf("%w: advance from %s", ErrInvalidTransition, e.State)
	}

	if step == "" || challenge == "" {
		return Exchange{}, errors.New("next step and challenge are mandatory")
	}

	next := e.next()
	next.State = StateActive
	next.Step = step
	next.Challenge = challenge
	next.Variables.AuthorizationRequest = nil

	if result != nil {
		next.Variables.Results[e.Step] = result
	}

	return next, nil
}

// Invalidate moves the exchange to invalid, recording the step result when given.
func (e Exchange) Invalidate(result *StepResult) Exchange {
	next := e.next()
	next.State = StateInvalid
	next.OIDC.Code = ""

	if result != nil {
		next.Variables.Results[e.Step] = result
	}

	return next
}

// WithOIDCCode sets the one-time code without changing state.
func (e Exchange) WithOIDCCode(code string) Exchange {
	next := e.next()
	next.OIDC.Code = code

	return next
}

// RedeemCode clears the one-time code.
func (e Exchange) RedeemCode() Exchange {
	next := e.next()
	next.OIDC.Code = ""

	return next
}

// WithInternal replaces the internal secrets.
func (e Exchange) WithInternal(in *Internal) Exchange {
	next := e.next()
	next.Variables.Internal = copyInternal(in)

	return next
}

// Public returns a copy stripped of server-side secrets.
func (e Exchange) Public() Exchange {
	pub := e.clone()
	pub.Variables.Internal = nil

	if pub.Variables.AuthorizationRequest != nil {
		r := *pub.Variables.AuthorizationRequest
		r.JWT = ""
		pub.Variables.AuthorizationRequest = &r
	}

	return pub
}

// Result returns the result recorded for step, if any.
func (e Exchange) Result(step string) (*StepResult, bool) {
	r, ok := e.Variables.Results[step]

	return r, ok
}

func (e Exchange) next() Exchange {
	n := e.clone()
	n.Sequence++

	return n
}

func (e Exchange) clone() Exchange {
	c := e

	c.Variables.Untrusted = copyMap(e.Variables.Untrusted)
	c.Variables.Internal = copyInternal(e.Variables.Internal)
	c.Variables.Results = make(map[string]*StepResult, len(e.Variables.Results))

	for k, v := range e.Variables.Results {
		c.Variables.Results[k] = v
	}

	if e.Variables.AuthorizationRequest != nil {
		r := *e.Variables.AuthorizationRequest
		c.Variables.AuthorizationRequest = &r
	}

	return c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}

	c := make(map[string]interface{}, len(m))

	for k, v := range m {
		c[k] = v
	}

	return c
}

func copyInternal(in *Internal) *Internal {
	if in == nil {
		return nil
	}

	c := *in

	return &c
}
