/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package workflow drives exchanges through the protocol binding of their workflow.
//
// Every binding implements Engine. Bindings that serve an authorization request, accept an
// authorization response or receive webhooks additionally implement AuthorizationRequester,
// AuthorizationResponder or WebhookReceiver; callers discover these with a type assertion.
package workflow

import (
	"context"
	"errors"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
)

var (
	// ErrWorkflowNotFound is returned for an unknown workflow id.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrBadState is returned when the exchange state does not allow the operation.
	ErrBadState = errors.New("exchange state does not allow the operation")
	// ErrUnauthorized is returned when a caller secret does not match.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBadRequest is returned for malformed protocol messages.
	ErrBadRequest = errors.New("bad request")
	// ErrConfiguration is returned when the service is not configured for the operation.
	ErrConfiguration = errors.New("workflow configuration error")
	// ErrRemote is returned when a remote service fails.
	ErrRemote = errors.New("remote service error")
)

// CreateRequest carries caller supplied variables for a new exchange. Variables are untrusted and
// filtered through the allow-list of the workflow. OIDCState is trusted context and must only be set
// for an authenticated relying party.
type CreateRequest struct {
	Variables map[string]interface{} `json:"variables,omitempty"`
	OIDCState string                 `json:"oidcState,omitempty"`
}

// Created is the outcome of exchange creation. Protocols maps protocol names to the URL a wallet
// starts the interaction with.
type Created struct {
	Exchange  exchange.Exchange `json:"exchange"`
	Protocols map[string]string `json:"protocols,omitempty"`
}

// AuthorizationResponse is a wallet response to an authorization request. Origin is set for
// browser mediated responses only.
type AuthorizationResponse struct {
	VPToken    string                           `json:"vp_token"`
	Submission *presexch.PresentationSubmission `json:"presentation_submission"`
	State      string                           `json:"state,omitempty"`
	Origin     string                           `json:"origin,omitempty"`
}

// Engine is a protocol binding of workflows.
type Engine interface {
	Type() exchange.WorkflowType
	CreateExchange(ctx context.Context, wf *exchange.WorkflowDefinition, req *CreateRequest) (*Created, error)
	GetExchange(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (exchange.Exchange, error)
}

// AuthorizationRequester serves signed authorization requests.
type AuthorizationRequester interface {
	AuthorizationRequest(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (string, error)
}

// AuthorizationResponder processes wallet authorization responses. The returned exchange is in a
// terminal state, or active on its next step when a step of a multi-step workflow passed. A failed
// verification is reported through the step result, not as an error.
type AuthorizationResponder interface {
	AuthorizationResponse(ctx context.Context, wf *exchange.WorkflowDefinition, id string,
		resp *AuthorizationResponse) (exchange.Exchange, error)
}

// WebhookReceiver processes notifications sent by a remote verifier. The exchange is identified by
// the payload.
type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, wf *exchange.WorkflowDefinition, bearer string, payload []byte) error
}
