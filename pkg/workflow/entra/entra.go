/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package entra implements workflows verified by a Microsoft Entra Verified ID tenant. The tenant
// assigns the request id, which is also the id of the local exchange. Progress is reported to the
// webhook of the workflow, authenticated with a bearer secret generated per exchange.
package entra

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/models/presexch"

	entraclient "github.com/hyperledger/aries-exchanger/pkg/client/entra"
	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/verifier"
	"github.com/hyperledger/aries-exchanger/pkg/workflow"
)

// ProtocolEntra names the request service URL in the protocols of a created exchange.
const ProtocolEntra = "entra"

const bearerPrefix = "Bearer "

var logger = log.New("aries-exchanger/workflow/entra")

// RequestService creates presentation requests at the tenant.
type RequestService interface {
	CreatePresentationRequest(ctx context.Context, cfg *exchange.EntraConfig,
		req *entraclient.PresentationRequest) (*entraclient.PresentationResponse, error)
}

// Engine serves entra workflows.
type Engine struct {
	base   *workflow.Base
	client RequestService
}

// New returns an entra engine.
func New(base *workflow.Base, client RequestService) *Engine {
	return &Engine{base: base, client: client}
}

// Type returns the workflow type served.
func (e *Engine) Type() exchange.WorkflowType {
	return exchange.WorkflowEntra
}

// CreateExchange creates the presentation request at the tenant and an exchange keyed by its request id.
func (e *Engine) CreateExchange(ctx context.Context, wf *exchange.WorkflowDefinition,
	req *workflow.CreateRequest) (*workflow.Created, error) {
	callbackURL, err := e.base.URL("workflows", wf.ID, "entra", "callback")
	if err != nil {
		return nil, err
	}

	token, err := e.base.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("generate webhook token: %w", err)
	}

	resp, err := e.client.CreatePresentationRequest(ctx, wf.Entra, &entraclient.PresentationRequest{
		IncludeReceipt: true,
		Authority:      wf.Entra.Authority,
		Registration:   entraclient.Registration{ClientName: wf.Entra.ClientName},
		Callback: entraclient.Callback{
			URL:     callbackURL,
			State:   wf.ID,
			Headers: map[string]string{"Authorization": bearerPrefix + token},
		},
		RequestedCredentials: []entraclient.RequestedCredential{{
			Type:            wf.Entra.CredentialType,
			AcceptedIssuers: wf.TrustedIssuers,
			Configuration: &entraclient.Configuration{
				Validation: entraclient.Validation{ValidateLinkedDomain: true},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrRemote, err)
	}

	if resp.RequestID == "" {
		return nil, fmt.Errorf("%w: presentation request without request id", workflow.ErrRemote)
	}

	ex, err := e.base.NewExchangeWithID(ctx, wf, resp.RequestID, req, &exchange.Internal{
		WebhookToken:      token,
		RemoteExchangeURL: resp.URL,
	})
	if err != nil {
		return nil, err
	}

	return &workflow.Created{
		Exchange:  ex.Public(),
		Protocols: map[string]string{ProtocolEntra: resp.URL},
	}, nil
}

// GetExchange reads an exchange.
func (e *Engine) GetExchange(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (exchange.Exchange, error) {
	return e.base.GetExchange(ctx, wf, id)
}

// HandleWebhook applies a tenant callback to the exchange of its request id. The authorization header
// must carry the bearer secret of that exchange; otherwise nothing is modified. Callbacks for finished
// exchanges are acknowledged and ignored.
func (e *Engine) HandleWebhook(ctx context.Context, wf *exchange.WorkflowDefinition, authorization string,
	payload []byte) error {
	ev, err := entraclient.ParseCallbackEvent(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrBadRequest, err)
	}

	ex, err := e.base.GetExchange(ctx, wf, ev.RequestID)
	if err != nil {
		return err
	}

	if !authorized(&ex, authorization) {
		return fmt.Errorf("%w: webhook secret mismatch", workflow.ErrUnauthorized)
	}

	if ex.State.Terminal() {
		logger.Infof("exchange %s: ignoring %s callback in state %s", ex.ID, ev.RequestStatus, ex.State)

		return nil
	}

	switch ev.RequestStatus {
	case entraclient.StatusRequestRetrieved:
		if ex.State != exchange.StatePending {
			return nil
		}

		next, err := ex.Activate(nil)
		if err != nil {
			return err
		}

		return e.base.Commit(ctx, wf, ex.State, next)
	case entraclient.StatusPresentationVerified:
		result, err := e.verifyReceipt(ctx, wf, &ex, ev)
		if err != nil {
			return err
		}

		_, err = e.base.Finalize(ctx, wf, ex, result)

		return err
	case entraclient.StatusPresentationError:
		reason := "presentation error"
		if ev.Error != nil {
			reason = fmt.Sprintf("presentation error: %s", ev.Error.Error())
		}

		_, err = e.base.Fail(ctx, wf, ex, reason)

		return err
	default:
		return fmt.Errorf("%w: unknown request status %q", workflow.ErrBadRequest, ev.RequestStatus)
	}
}

// verifyReceipt verifies the presentation of the receipt against the step definition. Without a
// definition the verification of the tenant is accepted.
func (e *Engine) verifyReceipt(ctx context.Context, wf *exchange.WorkflowDefinition, ex *exchange.Exchange,
	ev *entraclient.CallbackEvent) (*exchange.StepResult, error) {
	if ev.Receipt == nil || ev.Receipt.VPToken == "" {
		return &exchange.StepResult{
			Errors:     []string{"verified presentation event carries no receipt"},
			VerifiedAt: e.base.Now().UTC(),
		}, nil
	}

	step, ok := wf.Steps[ex.Step]
	if !ok || step.PresentationDefinition == nil {
		vp, err := json.Marshal(ev.Receipt.VPToken)
		if err != nil {
			return nil, err
		}

		return &exchange.StepResult{
			Verified:               true,
			VerifiablePresentation: vp,
			VerifiedAt:             e.base.Now().UTC(),
		}, nil
	}

	pd, err := workflow.StepDefinition(wf, ex.Step)
	if err != nil {
		return nil, err
	}

	return e.base.Verify(ctx, ev.Receipt.VPToken, receiptSubmission(pd), &verifier.Request{
		Definition:     pd,
		Audience:       wf.Entra.Authority,
		TrustedIssuers: wf.TrustedIssuers,
		SkipX5CCheck:   wf.SkipX5CCheck,
	})
}

// receiptSubmission maps the i-th input descriptor to the i-th credential of the receipt presentation.
func receiptSubmission(pd *presexch.PresentationDefinition) *presexch.PresentationSubmission {
	sub := &presexch.PresentationSubmission{
		ID:           uuid.NewString(),
		DefinitionID: pd.ID,
	}

	for i, d := range pd.InputDescriptors {
		sub.DescriptorMap = append(sub.DescriptorMap, &presexch.InputDescriptorMapping{
			ID:     d.ID,
			Format: verifier.FormatJWTVPJSON,
			Path:   "$",
			PathNested: &presexch.InputDescriptorMapping{
				ID:     d.ID,
				Format: "jwt_vc_json",
				Path:   fmt.Sprintf("$.verifiableCredential[%d]", i),
			},
		})
	}

	return sub
}

func authorized(ex *exchange.Exchange, authorization string) bool {
	if ex.Variables.Internal == nil || ex.Variables.Internal.WebhookToken == "" {
		return false
	}

	if !strings.HasPrefix(authorization, bearerPrefix) {
		return false
	}

	given := strings.TrimPrefix(authorization, bearerPrefix)

	return subtle.ConstantTimeCompare([]byte(given), []byte(ex.Variables.Internal.WebhookToken)) == 1
}
