/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"
)

func testDefinition() *presexch.PresentationDefinition {
	return &presexch.PresentationDefinition{
		ID: "c4b2a9b6-1f1c-4b5f-8b5a-3c1b9d1e2f3a",
		InputDescriptors: []*presexch.InputDescriptor{{
			ID:   "drivers_license",
			Name: "Drivers License",
			Schema: []*presexch.Schema{{
				URI: "https://www.w3.org/2018/credentials#VerifiableCredential",
			}},
		}},
	}
}

func TestWorkflowDefinition_Validate(t *testing.T) {
	valid := func() *WorkflowDefinition {
		return &WorkflowDefinition{
			ID:          "wf",
			Type:        WorkflowNative,
			InitialStep: "init",
			Steps:       map[string]*Step{"init": {PresentationDefinition: testDefinition()}},
		}
	}

	t.Run("success", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		w := valid()
		w.ID = ""
		require.Error(t, w.Validate())
	})

	t.Run("unknown type", func(t *testing.T) {
		w := valid()
		w.Type = "oid4vci"
		require.Contains(t, w.Validate().Error(), "unsupported type")
	})

	t.Run("undefined initial step", func(t *testing.T) {
		w := valid()
		w.InitialStep = "other"
		require.Contains(t, w.Validate().Error(), "initial step")
	})

	t.Run("undefined next step", func(t *testing.T) {
		w := valid()
		w.Steps["init"].NextStep = "missing"
		require.Contains(t, w.Validate().Error(), "next step")
	})

	t.Run("vcapi without exchanger", func(t *testing.T) {
		w := &WorkflowDefinition{ID: "wf", Type: WorkflowVCAPI}
		require.Contains(t, w.Validate().Error(), "remote exchanger url")
	})

	t.Run("entra without credentials", func(t *testing.T) {
		w := &WorkflowDefinition{ID: "wf", Type: WorkflowEntra, Entra: &EntraConfig{APIURL: "https://x"}}
		require.Contains(t, w.Validate().Error(), "oauth2")
	})

	t.Run("dcapi without origins", func(t *testing.T) {
		w := valid()
		w.Type = WorkflowDCAPI
		require.Contains(t, w.Validate().Error(), "expected origins")
	})
}

func TestWorkflowDefinition_ExchangeTTL(t *testing.T) {
	require.Equal(t, 15*time.Minute, (&WorkflowDefinition{}).ExchangeTTL())
	require.Equal(t, time.Minute, (&WorkflowDefinition{TTL: 60}).ExchangeTTL())
}

func TestWorkflowDefinition_FilterUntrusted(t *testing.T) {
	w := &WorkflowDefinition{UntrustedVariableAllowList: []string{"redirectUrl"}}

	require.Nil(t, w.FilterUntrusted(nil))
	require.Equal(t, map[string]interface{}{"redirectUrl": "https://rp"},
		w.FilterUntrusted(map[string]interface{}{"redirectUrl": "https://rp", "admin": true}))
	require.Nil(t, (&WorkflowDefinition{}).FilterUntrusted(map[string]interface{}{"admin": true}))
}

func TestStep_ResolvedDefinition(t *testing.T) {
	t.Run("override applied", func(t *testing.T) {
		step := &Step{
			PresentationDefinition: testDefinition(),
			ConstraintsOverride: map[string]interface{}{
				"drivers_license": map[string]interface{}{
					"fields": []interface{}{
						map[string]interface{}{
							"path": []interface{}{"$.credentialSubject.birthDate"},
						},
					},
				},
			},
		}

		pd, err := step.ResolvedDefinition()
		require.NoError(t, err)
		require.NotNil(t, pd.InputDescriptors[0].Constraints)
		require.Equal(t, []string{"$.credentialSubject.birthDate"}, pd.InputDescriptors[0].Constraints.Fields[0].Path)
		require.Nil(t, step.PresentationDefinition.InputDescriptors[0].Constraints)
	})

	t.Run("unknown override field", func(t *testing.T) {
		step := &Step{
			PresentationDefinition: testDefinition(),
			ConstraintsOverride:    map[string]interface{}{"drivers_license": map[string]interface{}{"bogus": 1}},
		}

		_, err := step.ResolvedDefinition()
		require.Error(t, err)
	})

	t.Run("no definition", func(t *testing.T) {
		_, err := (&Step{}).ResolvedDefinition()
		require.Error(t, err)
	})
}
