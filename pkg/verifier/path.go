/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"
)

var pathLanguage = gval.Full(jsonpath.PlaceholderExtension())

func selectByPath(doc interface{}, jsonPath string) (interface{}, error) {
	if jsonPath == "" {
		return nil, fmt.Errorf("descriptor path is empty")
	}

	path, err := pathLanguage.NewEvaluable(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build new json path evaluator: %w", err)
	}

	v, err := path(context.TODO(), doc)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate json path [%s]: %w", jsonPath, err)
	}

	return v, nil
}

// selectNested follows a chain of nested descriptor mappings starting at doc.
func selectNested(doc interface{}, m *presexch.InputDescriptorMapping) (interface{}, error) {
	current := doc

	for ; m != nil; m = m.PathNested {
		v, err := selectByPath(current, m.Path)
		if err != nil {
			return nil, err
		}

		current = v
	}

	return current, nil
}
