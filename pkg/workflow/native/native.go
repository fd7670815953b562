/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package native implements self-hosted OID4VP exchanges: the wallet fetches a signed request object
// and posts its response directly to the service.
package native

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/workflow"
)

const (
	// ProtocolOID4VP names the wallet entry point in the protocols of a created exchange.
	ProtocolOID4VP = "OID4VP"

	responseModeDirectPost = "direct_post"
	authorizeURI           = "openid4vp://authorize"
)

// Engine serves native workflows.
type Engine struct {
	base *workflow.Base
}

// New returns a native engine.
func New(base *workflow.Base) *Engine {
	return &Engine{base: base}
}

// Type returns the workflow type served.
func (e *Engine) Type() exchange.WorkflowType {
	return exchange.WorkflowNative
}

// CreateExchange creates a pending exchange and the wallet deep link pointing to its request object.
func (e *Engine) CreateExchange(ctx context.Context, wf *exchange.WorkflowDefinition,
	req *workflow.CreateRequest) (*workflow.Created, error) {
	ex, err := e.base.NewExchange(ctx, wf, req, nil)
	if err != nil {
		return nil, err
	}

	requestURI, err := e.base.URL(exchangePath(wf, ex.ID, "request")...)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("client_id", e.base.ServiceDID())
	q.Set("request_uri", requestURI)

	return &workflow.Created{
		Exchange:  ex.Public(),
		Protocols: map[string]string{ProtocolOID4VP: authorizeURI + "?" + q.Encode()},
	}, nil
}

// GetExchange reads an exchange.
func (e *Engine) GetExchange(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (exchange.Exchange, error) {
	return e.base.GetExchange(ctx, wf, id)
}

// AuthorizationRequest returns the signed request object and activates the exchange.
func (e *Engine) AuthorizationRequest(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (string, error) {
	responseURI, err := e.base.URL(exchangePath(wf, id, "response")...)
	if err != nil {
		return "", err
	}

	return e.base.IssueAuthorizationRequest(ctx, wf, id, &workflow.RequestBinding{
		ResponseMode: responseModeDirectPost,
		ResponseURI:  responseURI,
	})
}

// AuthorizationResponse verifies the wallet response. JWT presentations must be addressed to the service
// DID; data integrity proofs are bound by the exchange challenge.
func (e *Engine) AuthorizationResponse(ctx context.Context, wf *exchange.WorkflowDefinition, id string,
	resp *workflow.AuthorizationResponse) (exchange.Exchange, error) {
	if resp != nil && resp.Origin != "" {
		return exchange.Exchange{}, fmt.Errorf("%w: origin bound responses are not accepted", workflow.ErrBadRequest)
	}

	return e.base.AcceptAuthorizationResponse(ctx, wf, id, resp, &workflow.ResponseBinding{
		Audience: e.base.ServiceDID(),
	})
}

func exchangePath(wf *exchange.WorkflowDefinition, id, endpoint string) []string {
	return []string{"workflows", wf.ID, "exchanges", id, "openid", "client", "authorization", endpoint}
}
