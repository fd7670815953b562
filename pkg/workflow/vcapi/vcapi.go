/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package vcapi implements workflows delegated to a remote VC-API exchanger. A local shadow exchange
// mirrors the remote state and owns the one-time code handed to the relying party.
package vcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"

	vcapiclient "github.com/hyperledger/aries-exchanger/pkg/client/vcapi"
	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	exchangestore "github.com/hyperledger/aries-exchanger/pkg/store/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/workflow"
)

// ProtocolVCAPI names the remote exchange in the protocols of a created exchange.
const ProtocolVCAPI = "vcapi"

var logger = log.New("aries-exchanger/workflow/vcapi")

// RemoteClient talks to the remote exchanger.
type RemoteClient interface {
	CreateExchange(ctx context.Context, cfg *exchange.RemoteConfig, req *vcapiclient.CreateRequest) (string, error)
	GetExchange(ctx context.Context, cfg *exchange.RemoteConfig, exchangeURL string) (*vcapiclient.Exchange, error)
}

// Engine serves vcapi workflows.
type Engine struct {
	base   *workflow.Base
	client RemoteClient
}

// New returns a vcapi engine.
func New(base *workflow.Base, client RemoteClient) *Engine {
	return &Engine{base: base, client: client}
}

// Type returns the workflow type served.
func (e *Engine) Type() exchange.WorkflowType {
	return exchange.WorkflowVCAPI
}

// CreateExchange creates the local shadow and the remote exchange. The remote exchange receives the
// local challenge and the allow-listed caller variables.
func (e *Engine) CreateExchange(ctx context.Context, wf *exchange.WorkflowDefinition,
	req *workflow.CreateRequest) (*workflow.Created, error) {
	ex, err := e.base.NewExchange(ctx, wf, req, nil)
	if err != nil {
		return nil, err
	}

	vars := map[string]interface{}{"challenge": ex.Challenge}

	for k, v := range ex.Variables.Untrusted {
		vars[k] = v
	}

	remoteURL, err := e.client.CreateExchange(ctx, wf.Remote, &vcapiclient.CreateRequest{
		TTL:       ex.TTL,
		Variables: vars,
	})
	if err != nil {
		if _, failErr := e.base.Fail(ctx, wf, ex, "remote exchange creation failed"); failErr != nil {
			logger.Warnf("exchange %s: invalidate: %v", ex.ID, failErr)
		}

		return nil, fmt.Errorf("%w: %v", workflow.ErrRemote, err)
	}

	next := ex.WithInternal(&exchange.Internal{RemoteExchangeURL: remoteURL})

	if err = e.base.Commit(ctx, wf, ex.State, next); err != nil {
		return nil, err
	}

	return &workflow.Created{
		Exchange:  next.Public(),
		Protocols: map[string]string{ProtocolVCAPI: remoteURL},
	}, nil
}

// GetExchange returns the local exchange after folding in the remote state. Remote completion
// completes the local exchange and mints its code once; concurrent readers observe the winner.
// A remote read failure leaves the local state unchanged.
func (e *Engine) GetExchange(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (exchange.Exchange, error) {
	ex, err := e.base.GetExchange(ctx, wf, id)
	if err != nil {
		return exchange.Exchange{}, err
	}

	if ex.State.Terminal() || ex.Variables.Internal == nil || ex.Variables.Internal.RemoteExchangeURL == "" {
		return ex, nil
	}

	remote, err := e.client.GetExchange(ctx, wf.Remote, ex.Variables.Internal.RemoteExchangeURL)
	if err != nil {
		logger.Warnf("exchange %s: read remote exchange: %v", ex.ID, err)

		return ex, nil
	}

	var next exchange.Exchange

	switch exchange.State(remote.State) {
	case exchange.StateActive:
		if ex.State != exchange.StatePending {
			return ex, nil
		}

		next, err = ex.Activate(nil)
		if err == nil {
			err = e.base.Commit(ctx, wf, ex.State, next)
		}
	case exchange.StateComplete:
		next, err = e.base.Finalize(ctx, wf, ex, &exchange.StepResult{
			Verified:               true,
			VerifiablePresentation: remotePresentation(remote, ex.Step),
			VerifiedAt:             e.base.Now().UTC(),
		})
	case exchange.StateInvalid:
		next, err = e.base.Fail(ctx, wf, ex, "remote exchange is invalid")
	default:
		return ex, nil
	}

	if errors.Is(err, exchangestore.ErrConflict) {
		return e.base.GetExchange(ctx, wf, id)
	}

	if err != nil {
		return exchange.Exchange{}, err
	}

	return next, nil
}

// remotePresentation returns the presentation recorded by the remote exchanger, preferring the
// result of step.
func remotePresentation(remote *vcapiclient.Exchange, step string) json.RawMessage {
	results, ok := remote.Variables["results"].(map[string]interface{})
	if !ok {
		return nil
	}

	pick := func(v interface{}) json.RawMessage {
		r, ok := v.(map[string]interface{})
		if !ok || r["verifiablePresentation"] == nil {
			return nil
		}

		b, err := json.Marshal(r["verifiablePresentation"])
		if err != nil {
			return nil
		}

		return b
	}

	if vp := pick(results[step]); vp != nil {
		return vp
	}

	for _, r := range results {
		if vp := pick(r); vp != nil {
			return vp
		}
	}

	return nil
}
