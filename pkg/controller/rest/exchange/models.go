/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"encoding/json"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/workflow"
)

type createExchangeResponse struct {
	Exchange  exchange.Exchange `json:"exchange"`
	Protocols map[string]string `json:"protocols,omitempty"`
}

type exchangeResponse struct {
	Exchange exchange.Exchange `json:"exchange"`
}

type authorizationResponseRequest struct {
	VPToken    json.RawMessage                  `json:"vp_token"`
	Submission *presexch.PresentationSubmission `json:"presentation_submission"`
	State      string                           `json:"state,omitempty"`
	Origin     string                           `json:"origin,omitempty"`
}

type authorizationResponseResult struct {
	State  exchange.State `json:"state"`
	Step   string         `json:"step,omitempty"`
	Errors []string       `json:"errors,omitempty"`
}

type redeemCodeResponse struct {
	ExchangeID string                          `json:"exchangeId"`
	WorkflowID string                          `json:"workflowId"`
	Step       string                          `json:"step"`
	State      string                          `json:"state,omitempty"`
	Results    map[string]*exchange.StepResult `json:"results,omitempty"`
}

type auditExchangeResponse struct {
	Audit *workflow.Audit `json:"audit"`
}

// createExchangeReq model
//
// swagger:parameters createExchangeReq
type createExchangeReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	WorkflowID string `json:"workflowId"`

	// Variables offered by the relying party; only allow-listed names are kept. The OIDC state is
	// returned with the results on code redemption.
	//
	// in: body
	Params workflow.CreateRequest
}

// createExchangeRes model
//
// swagger:response createExchangeRes
type createExchangeRes struct { // nolint: unused,deadcode
	// in: body
	Response createExchangeResponse
}

// getExchangeReq model
//
// swagger:parameters getExchangeReq
type getExchangeReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	WorkflowID string `json:"workflowId"`

	// in: path
	// required: true
	ExchangeID string `json:"exchangeId"`
}

// getExchangeRes model
//
// swagger:response getExchangeRes
type getExchangeRes struct { // nolint: unused,deadcode
	// in: body
	Response exchangeResponse
}

// auditExchangeReq model
//
// swagger:parameters auditExchangeReq
type auditExchangeReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	WorkflowID string `json:"workflowId"`

	// in: path
	// required: true
	ExchangeID string `json:"exchangeId"`
}

// auditExchangeRes model
//
// swagger:response auditExchangeRes
type auditExchangeRes struct { // nolint: unused,deadcode
	// in: body
	Response auditExchangeResponse
}

// authorizationRequestReq model
//
// swagger:parameters authorizationRequestReq dcapiRequestReq
type authorizationRequestReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	WorkflowID string `json:"workflowId"`

	// in: path
	// required: true
	ExchangeID string `json:"exchangeId"`
}

// authorizationRequestRes model
//
// Compact JWS of the request object.
//
// swagger:response authorizationRequestRes
type authorizationRequestRes struct { // nolint: unused,deadcode
	// in: body
	RequestObject string
}

// authorizationResponseReq model
//
// swagger:parameters authorizationResponseReq dcapiResponseReq
type authorizationResponseReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	WorkflowID string `json:"workflowId"`

	// in: path
	// required: true
	ExchangeID string `json:"exchangeId"`

	// in: body
	Params authorizationResponseRequest
}

// authorizationResponseRes model
//
// swagger:response authorizationResponseRes
type authorizationResponseRes struct { // nolint: unused,deadcode
	// in: body
	Response authorizationResponseResult
}

// entraCallbackReq model
//
// swagger:parameters entraCallbackReq
type entraCallbackReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	WorkflowID string `json:"workflowId"`

	// in: header
	// required: true
	Authorization string `json:"Authorization"`
}

// redeemCodeReq model
//
// swagger:parameters redeemCodeReq
type redeemCodeReq struct { // nolint: unused,deadcode
	// in: path
	// required: true
	WorkflowID string `json:"workflowId"`

	// in: formData
	// required: true
	GrantType string `json:"grant_type"`

	// in: formData
	// required: true
	Code string `json:"code"`
}

// redeemCodeRes model
//
// swagger:response redeemCodeRes
type redeemCodeRes struct { // nolint: unused,deadcode
	// in: body
	Response redeemCodeResponse
}

// emptyRes model
//
// swagger:response emptyRes
type emptyRes struct{} // nolint: unused,deadcode
