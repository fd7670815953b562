/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	exchangestore "github.com/hyperledger/aries-exchanger/pkg/store/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/verifier"
)

// Audit is the outcome of re-verifying the presentations of an exchange.
type Audit struct {
	ExchangeID string                           `json:"exchangeId"`
	Trusted    bool                             `json:"trusted"`
	Steps      map[string]*verifier.AuditResult `json:"steps"`
}

// AuditExchange re-verifies every verified presentation of an exchange with the issuer documents that
// were valid when it was verified. Expired exchanges are audited while their record is retained.
func (b *Base) AuditExchange(ctx context.Context, wf *exchange.WorkflowDefinition, id string) (*Audit, error) {
	if b.auditor == nil {
		return nil, fmt.Errorf("%w: issuer audit is not enabled", ErrConfiguration)
	}

	ex, err := b.store.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}

	if ex.WorkflowID != wf.ID {
		return nil, fmt.Errorf("%w: %s", exchangestore.ErrExchangeNotFound, id)
	}

	steps := make([]string, 0, len(ex.Variables.Results))

	for step, r := range ex.Variables.Results {
		if r != nil && r.Verified && len(r.VerifiablePresentation) > 0 {
			steps = append(steps, step)
		}
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: exchange %s has no verified presentation", ErrBadState, id)
	}

	sort.Strings(steps)

	audit := &Audit{ExchangeID: ex.ID, Trusted: true, Steps: make(map[string]*verifier.AuditResult, len(steps))}

	for _, step := range steps {
		r := ex.Variables.Results[step]

		res, err := b.auditor.AuditPresentation(ctx, r.VerifiablePresentation, r.VerifiedAt)
		if err != nil {
			return nil, fmt.Errorf("audit step %s: %w", step, err)
		}

		audit.Steps[step] = res
		audit.Trusted = audit.Trusted && res.Trusted
	}

	logger.Infof("audited exchange %s: trusted=%t", ex.ID, audit.Trusted)

	return audit, nil
}
