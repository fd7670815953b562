/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"
)

// WorkflowType selects the protocol binding of a workflow.
type WorkflowType string

const (
	// WorkflowNative is a self-hosted OID4VP exchange.
	WorkflowNative WorkflowType = "native"
	// WorkflowVCAPI delegates the exchange to a remote VC-API exchange service.
	WorkflowVCAPI WorkflowType = "vcapi"
	// WorkflowEntra uses a Microsoft Entra Verified ID style verifier.
	WorkflowEntra WorkflowType = "entra"
	// WorkflowDCAPI is the browser Digital Credentials API binding.
	WorkflowDCAPI WorkflowType = "dcapi"
)

const defaultTTL = 15 * time.Minute

// WorkflowDefinition is the static, configuration-owned description of a workflow.
// TTL is in seconds and defaults to 15 minutes. ExpectedOrigins lists the web origins allowed to
// submit Digital Credentials API responses.
type WorkflowDefinition struct {
	ID                         string           `json:"id"`
	Type                       WorkflowType     `json:"type"`
	InitialStep                string           `json:"initialStep"`
	Steps                      map[string]*Step `json:"steps"`
	UntrustedVariableAllowList []string         `json:"untrustedVariableAllowList,omitempty"`
	TTL                        int64            `json:"ttl,omitempty"`
	ClientID                   string           `json:"clientId,omitempty"`
	ClientSecret               string           `json:"clientSecret,omitempty"`
	Callback                   *CallbackConfig  `json:"callback,omitempty"`
	TrustedIssuers             []string         `json:"trustedIssuers,omitempty"`
	SkipX5CCheck               bool             `json:"skipX5CCheck,omitempty"`
	Remote                     *RemoteConfig    `json:"remote,omitempty"`
	Entra                      *EntraConfig     `json:"entra,omitempty"`
	ExpectedOrigins            []string         `json:"expectedOrigins,omitempty"`
}

// Step is a named step of a workflow. ConstraintsOverride replaces the constraints of input
// descriptors, keyed by descriptor id.
type Step struct {
	PresentationDefinition *presexch.PresentationDefinition `json:"presentationDefinition,omitempty"`
	NextStep               string                           `json:"nextStep,omitempty"`
	ConstraintsOverride    map[string]interface{}           `json:"constraintsOverride,omitempty"`
}

// CallbackConfig is the relying party webhook.
type CallbackConfig struct {
	URL    string        `json:"url"`
	OAuth2 *OAuth2Config `json:"oauth2,omitempty"`
}

// OAuth2Config holds client credentials used to obtain a bearer token.
type OAuth2Config struct {
	TokenURL     string   `json:"tokenUrl"`
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	Scopes       []string `json:"scopes,omitempty"`
}

// RemoteConfig addresses a remote VC-API exchanger. Capability is sent as bearer authorization.
type RemoteConfig struct {
	ExchangerURL string `json:"exchangerUrl"`
	Capability   string `json:"capability,omitempty"`
}

// EntraConfig describes a remote Entra verified ID tenant.
type EntraConfig struct {
	APIURL         string        `json:"apiUrl"`
	Authority      string        `json:"authority"`
	CredentialType string        `json:"credentialType"`
	ClientName     string        `json:"clientName,omitempty"`
	OAuth2         *OAuth2Config `json:"oauth2"`
}

// Validate checks the definition for configuration errors.
func (w *WorkflowDefinition) Validate() error {
	if w.ID == "" {
		return errors.New("workflow id is mandatory")
	}

	switch w.Type {
	case WorkflowNative, WorkflowDCAPI:
		if len(w.Steps) == 0 {
			return fmt.Errorf("workflow %s: no steps defined", w.ID)
		}
	case WorkflowVCAPI:
		if w.Remote == nil || w.Remote.ExchangerURL == "" {
			return fmt.Errorf("workflow %s: remote exchanger url is mandatory", w.ID)
		}
	case WorkflowEntra:
		if w.Entra == nil || w.Entra.APIURL == "" || w.Entra.OAuth2 == nil {
			return fmt.Errorf("workflow %s: entra api url and oauth2 credentials are mandatory", w.ID)
		}
	default:
		return fmt.Errorf("workflow %s: unsupported type %q", w.ID, w.Type)
	}

	if w.Type == WorkflowDCAPI && len(w.ExpectedOrigins) == 0 {
		return fmt.Errorf("workflow %s: expected origins are mandatory", w.ID)
	}

	if len(w.Steps) > 0 {
		if _, ok := w.Steps[w.InitialStep]; !ok {
			return fmt.Errorf("workflow %s: initial step %q is not defined", w.ID, w.InitialStep)
		}
	}

	for name, step := range w.Steps {
		if step.NextStep != "" {
			if _, ok := w.Steps[step.NextStep]; !ok {
				return fmt.Errorf("workflow %s: step %s: next step %q is not defined", w.ID, name, step.NextStep)
			}
		}

		if step.PresentationDefinition == nil {
			continue
		}

		if err := step.PresentationDefinition.ValidateSchema(); err != nil {
			return fmt.Errorf("workflow %s: step %s: %w", w.ID, name, err)
		}
	}

	return nil
}

// ExchangeTTL returns the configured exchange lifetime.
func (w *WorkflowDefinition) ExchangeTTL() time.Duration {
	if w.TTL <= 0 {
		return defaultTTL
	}

	return time.Duration(w.TTL) * time.Second
}

// FilterUntrusted keeps only allow-listed caller variables.
func (w *WorkflowDefinition) FilterUntrusted(vars map[string]interface{}) map[string]interface{} {
	if len(vars) == 0 || len(w.UntrustedVariableAllowList) == 0 {
		return nil
	}

	filtered := make(map[string]interface{})

	for _, name := range w.UntrustedVariableAllowList {
		if v, ok := vars[name]; ok {
			filtered[name] = v
		}
	}

	return filtered
}

// ResolvedDefinition returns the definition of the step with constraint overrides applied.
// The stored step is not modified.
func (s *Step) ResolvedDefinition() (*presexch.PresentationDefinition, error) {
	if s.PresentationDefinition == nil {
		return nil, errors.New("step has no presentation definition")
	}

	pd := *s.PresentationDefinition
	pd.InputDescriptors = make([]*presexch.InputDescriptor, len(s.PresentationDefinition.InputDescriptors))

	for i, desc := range s.PresentationDefinition.InputDescriptors {
		d := *desc

		if raw, ok := s.ConstraintsOverride[d.ID]; ok {
			constraints := &presexch.Constraints{}

			if err := decodeConstraints(raw, constraints); err != nil {
				return nil, fmt.Errorf("constraints override for %s: %w", d.ID, err)
			}

			d.Constraints = constraints
		}

		pd.InputDescriptors[i] = &d
	}

	return &pd, nil
}

func decodeConstraints(raw interface{}, constraints *presexch.Constraints) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           constraints,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Squash:           true,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(raw)
}
