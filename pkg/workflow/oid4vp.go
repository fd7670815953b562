/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package workflow

import (
	"context"
	"fmt"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/verifier"
)

const (
	// SelfIssuedAudience is the audience of request objects addressed to any wallet.
	SelfIssuedAudience = "https://self-issued.me/v2"

	responseTypeVPToken = "vp_token"
	clientIDSchemeDID   = "did"
)

var (
	supportedAlgs   = []string{"EdDSA", "ES256", "ES256K"}
	supportedProofs = []string{
		"Ed25519Signature2018",
		"Ed25519Signature2020",
		"JsonWebSignature2020",
		"EcdsaSecp256k1Signature2019",
	}
)

// RequestBinding is the transport specific part of an OID4VP authorization request.
type RequestBinding struct {
	ResponseMode    string
	ResponseURI     string
	ExpectedOrigins []string
}

// ResponseBinding is what a wallet response must be addressed to. Audience is checked against the aud
// of JWT presentations. Domain is optional; when set, a data integrity proof must carry it next to the
// challenge, otherwise the challenge alone binds the proof.
type ResponseBinding struct {
	Audience string
	Domain   string
}

// RequestObject is the claim set of a signed authorization request.
type RequestObject struct {
	jwt.Claims
	ResponseType           string                           `json:"response_type"`
	ResponseMode           string                           `json:"response_mode"`
	ClientID               string                           `json:"client_id"`
	ClientIDScheme         string                           `json:"client_id_scheme"`
	Nonce                  string                           `json:"nonce"`
	State                  string                           `json:"state"`
	ResponseURI            string                           `json:"response_uri,omitempty"`
	ExpectedOrigins        []string                         `json:"expected_origins,omitempty"`
	PresentationDefinition *presexch.PresentationDefinition `json:"presentation_definition"`
	ClientMetadata         *ClientMetadata                  `json:"client_metadata"`
}

// ClientMetadata describes the verifier to the wallet.
type ClientMetadata struct {
	ClientName string                            `json:"client_name,omitempty"`
	VPFormats  map[string]map[string]interface{} `json:"vp_formats"`
}

func clientMetadata(name string) *ClientMetadata {
	jwtFormat := map[string]interface{}{"alg": supportedAlgs}
	ldpFormat := map[string]interface{}{"proof_type": supportedProofs}

	return &ClientMetadata{
		ClientName: name,
		VPFormats: map[string]map[string]interface{}{
			"jwt_vp_json": jwtFormat,
			"jwt_vc_json": jwtFormat,
			"ldp_vp":      ldpFormat,
			"ldp_vc":      ldpFormat,
		},
	}
}

// IssueAuthorizationRequest signs the authorization request of exchange id, records it and moves the
// exchange to active. The challenge of the exchange is the request nonce.
func (b *Base) IssueAuthorizationRequest(ctx context.Context, wf *exchange.WorkflowDefinition, id string,
	binding *RequestBinding) (string, error) {
	if b.signer == nil {
		return "", fmt.Errorf("%w: no authorization request signing key", ErrConfiguration)
	}

	ex, err := b.GetExchange(ctx, wf, id)
	if err != nil {
		return "", err
	}

	if !ex.AcceptsResponse() {
		return "", fmt.Errorf("%w: exchange %s is %s", ErrBadState, ex.ID, ex.State)
	}

	pd, err := StepDefinition(wf, ex.Step)
	if err != nil {
		return "", err
	}

	ar := &exchange.AuthorizationRequest{
		PresentationDefinition: pd,
		ClientID:               b.serviceDID,
		Nonce:                  ex.Challenge,
		State:                  ex.ID,
		ResponseMode:           binding.ResponseMode,
		ResponseURI:            binding.ResponseURI,
		ExpectedOrigins:        binding.ExpectedOrigins,
	}

	now := b.now()

	token, err := b.signer.Sign(&RequestObject{
		Claims: jwt.Claims{
			Issuer:   b.serviceDID,
			Audience: jwt.Audience{SelfIssuedAudience},
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(ex.ExpiresAt()),
			ID:       uuid.NewString(),
		},
		ResponseType:           responseTypeVPToken,
		ResponseMode:           ar.ResponseMode,
		ClientID:               ar.ClientID,
		ClientIDScheme:         clientIDSchemeDID,
		Nonce:                  ar.Nonce,
		State:                  ar.State,
		ResponseURI:            ar.ResponseURI,
		ExpectedOrigins:        ar.ExpectedOrigins,
		PresentationDefinition: pd,
		ClientMetadata:         clientMetadata(wf.ClientID),
	})
	if err != nil {
		return "", err
	}

	ar.JWT = token

	next, err := ex.Activate(ar)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadState, err)
	}

	if err = b.Commit(ctx, wf, ex.State, next); err != nil {
		return "", err
	}

	return token, nil
}

// AcceptAuthorizationResponse verifies a wallet response against the stored request of exchange id and
// finalizes the exchange. A response for an exchange that no longer accepts one invalidates it.
func (b *Base) AcceptAuthorizationResponse(ctx context.Context, wf *exchange.WorkflowDefinition, id string,
	resp *AuthorizationResponse, binding *ResponseBinding) (exchange.Exchange, error) {
	if resp == nil || resp.VPToken == "" || resp.Submission == nil {
		return exchange.Exchange{}, fmt.Errorf("%w: vp_token and presentation_submission are required", ErrBadRequest)
	}

	if binding == nil {
		binding = &ResponseBinding{}
	}

	ex, err := b.GetExchange(ctx, wf, id)
	if err != nil {
		return exchange.Exchange{}, err
	}

	if !ex.AcceptsResponse() {
		if ex.State != exchange.StateInvalid {
			if _, err = b.Fail(ctx, wf, ex, fmt.Sprintf("authorization response received in state %s", ex.State)); err != nil {
				logger.Warnf("exchange %s: invalidate: %v", ex.ID, err)
			}
		}

		return exchange.Exchange{}, fmt.Errorf("%w: exchange %s is %s", ErrBadState, ex.ID, ex.State)
	}

	pd, err := b.requestedDefinition(wf, &ex, resp)
	if err != nil {
		return exchange.Exchange{}, err
	}

	result, err := b.Verify(ctx, resp.VPToken, resp.Submission, &verifier.Request{
		Definition:     pd,
		Challenge:      ex.Challenge,
		Domain:         binding.Domain,
		Audience:       binding.Audience,
		TrustedIssuers: wf.TrustedIssuers,
		SkipX5CCheck:   wf.SkipX5CCheck,
	})
	if err != nil {
		return exchange.Exchange{}, err
	}

	return b.Finalize(ctx, wf, ex, result)
}

func (b *Base) requestedDefinition(wf *exchange.WorkflowDefinition, ex *exchange.Exchange,
	resp *AuthorizationResponse) (*presexch.PresentationDefinition, error) {
	ar := ex.Variables.AuthorizationRequest
	if ar == nil || ar.PresentationDefinition == nil {
		return StepDefinition(wf, ex.Step)
	}

	if resp.State != "" && resp.State != ar.State {
		return nil, fmt.Errorf("%w: state does not match the authorization request", ErrBadRequest)
	}

	return ar.PresentationDefinition, nil
}
