/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dcapi implements exchanges mediated by the browser Digital Credentials API. The page of the
// relying party passes the signed request object to the browser and posts the wallet response back
// together with the origin the browser reported.
package dcapi

import (
	"context"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/workflow"
)

const (
	// ProtocolDCAPI names the request object endpoint in the protocols of a created exchange.
	ProtocolDCAPI = "dcapi"

	responseModeDCAPI = "dc_api"
	originPrefix      = "origin:"
)

var logger = log.New("aries-exchanger/workflow/dcapi")

// Engine serves dcapi workflows.
type Engine struct {
	base *workflow.Base
}

// New returns a dcapi engine.
func New(base *workflow.Base) *Engine {
	return &Engine{base: base}
}

// Type returns the workflow type served.
func (e *Engine) Type() exchange.WorkflowType {
	return exchange.WorkflowDCAPI
}

// CreateExchange creates a pending exchange.
func (e *Engine) CreateExchange(ctx context.Context, wf *exchange.WorkflowDefinition,
	req *workflow.CreateRequest) (*workflow.Created, error) {
	ex, err := e.base.NewExchange(ctx, wf, req, nil)
	if err != nil {
		return nil, err
	}

	requestURI, err := e.base.URL("workflows", wf.ID, "exchanges", ex.ID, "dcapi", "request")
	if err != nil {
		return nil, err
	}

	return &workflow.Created{
		Exchange:  ex.Public(),
		Protocols: map[string]string{ProtocolDCAPI: requestURI},
	}, nil
}

// GetExchange reads an exchange.
func (e *Engine) GetExchange(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (exchange.Exchange, error) {
	return e.base.GetExchange(ctx, wf, id)
}

// AuthorizationRequest returns the signed request object restricted to the expected origins.
func (e *Engine) AuthorizationRequest(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (string, error) {
	return e.base.IssueAuthorizationRequest(ctx, wf, id, &workflow.RequestBinding{
		ResponseMode:    responseModeDCAPI,
		ExpectedOrigins: wf.ExpectedOrigins,
	})
}

// AuthorizationResponse verifies a response relayed from an expected origin. The presentation must be
// addressed to that origin.
func (e *Engine) AuthorizationResponse(ctx context.Context, wf *exchange.WorkflowDefinition, id string,
	resp *workflow.AuthorizationResponse) (exchange.Exchange, error) {
	if resp == nil || resp.Origin == "" {
		return exchange.Exchange{}, fmt.Errorf("%w: origin is required", workflow.ErrBadRequest)
	}

	if !expectedOrigin(wf, resp.Origin) {
		logger.Warnf("exchange %s: response from unexpected origin %s", id, resp.Origin)

		return exchange.Exchange{}, fmt.Errorf("%w: unexpected origin %s", workflow.ErrBadRequest, resp.Origin)
	}

	origin := originPrefix + resp.Origin

	return e.base.AcceptAuthorizationResponse(ctx, wf, id, resp, &workflow.ResponseBinding{
		Audience: origin,
		Domain:   origin,
	})
}

func expectedOrigin(wf *exchange.WorkflowDefinition, origin string) bool {
	for _, o := range wf.ExpectedOrigins {
		if o == origin {
			return true
		}
	}

	return false
}
