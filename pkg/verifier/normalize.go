/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"encoding/json"
	"errors"
)

// ErrUnrecognizedPresentation is returned when a data integrity vp_token is neither an object, an array
// nor a string holding one of those.
var ErrUnrecognizedPresentation = errors.New("unrecognized data integrity presentation")

// NormalizeDataIntegrityPresentation returns the presentations held by a data integrity vp_token. An object
// becomes a single element list, an array is returned as is and a string is parsed as JSON first.
func NormalizeDataIntegrityPresentation(token interface{}) ([]interface{}, error) {
	switch t := token.(type) {
	case map[string]interface{}:
		return []interface{}{t}, nil
	case []interface{}:
		return t, nil
	case json.RawMessage:
		return normalizeJSON(t)
	case []byte:
		return normalizeJSON(t)
	case string:
		return normalizeJSON([]byte(t))
	default:
		return nil, ErrUnrecognizedPresentation
	}
}

func normalizeJSON(b []byte) ([]interface{}, error) {
	var v interface{}

	if err := json.Unmarshal(b, &v); err != nil {
		return nil, ErrUnrecognizedPresentation
	}

	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return NormalizeDataIntegrityPresentation(v)
	default:
		return nil, ErrUnrecognizedPresentation
	}
}
