/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package workflow

import (
	"fmt"
	"sort"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
)

// Registry holds the configured workflows and the engine serving each of them.
type Registry struct {
	workflows map[string]*exchange.WorkflowDefinition
	engines   map[exchange.WorkflowType]Engine
}

// NewRegistry validates defs and binds each to the engine of its type.
func NewRegistry(defs []*exchange.WorkflowDefinition, engines ...Engine) (*Registry, error) {
	r := &Registry{
		workflows: make(map[string]*exchange.WorkflowDefinition, len(defs)),
		engines:   make(map[exchange.WorkflowType]Engine, len(engines)),
	}

	for _, e := range engines {
		r.engines[e.Type()] = e
	}

	for _, wf := range defs {
		if err := wf.Validate(); err != nil {
			return nil, err
		}

		if _, ok := r.workflows[wf.ID]; ok {
			return nil, fmt.Errorf("duplicate workflow %s", wf.ID)
		}

		if _, ok := r.engines[wf.Type]; !ok {
			return nil, fmt.Errorf("workflow %s: no engine for type %s", wf.ID, wf.Type)
		}

		r.workflows[wf.ID] = wf
	}

	return r, nil
}

// Lookup returns the workflow and its engine.
func (r *Registry) Lookup(workflowID string) (*exchange.WorkflowDefinition, Engine, error) {
	wf, ok := r.workflows[workflowID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	return wf, r.engines[wf.Type], nil
}

// Workflows returns the sorted ids of the configured workflows.
func (r *Registry) Workflows() []string {
	ids := make([]string, 0, len(r.workflows))

	for id := range r.workflows {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
