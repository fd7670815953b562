/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"
	sigverifier "github.com/hyperledger/aries-framework-go/component/models/signature/verifier"
	"github.com/hyperledger/aries-framework-go/component/models/verifiable"
)

// keyCapture records the keys used to verify a credential so their x5c chains can be validated.
type keyCapture struct {
	fetcher verifiable.PublicKeyFetcher
	mu      sync.Mutex
	keys    []*sigverifier.PublicKey
}

func (k *keyCapture) fetch(issuerID, keyID string) (*sigverifier.PublicKey, error) {
	pk, err := k.fetcher(issuerID, keyID)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.keys = append(k.keys, pk)
	k.mu.Unlock()

	return pk, nil
}

func (k *keyCapture) chains() [][]*x509.Certificate {
	k.mu.Lock()
	defer k.mu.Unlock()

	var chains [][]*x509.Certificate

	for _, pk := range k.keys {
		if pk.JWK != nil && len(pk.JWK.Certificates) > 0 {
			chains = append(chains, pk.JWK.Certificates)
		}
	}

	return chains
}

// verifyCredential verifies the proof of a raw credential (compact JWT or JSON-LD object). A nil credential
// is returned when it could not be verified at all.
func (v *Verifier) verifyCredential(ctx context.Context, raw interface{},
	req *Request) (*verifiable.Credential, []string) {
	data, err := credentialData(raw)
	if err != nil {
		return nil, []string{err.Error()}
	}

	capture := &keyCapture{fetcher: verifiable.NewVDRKeyResolver(v.resolver).PublicKeyFetcher()}

	vc, err := verifiable.ParseCredential(data,
		verifiable.WithPublicKeyFetcher(capture.fetch),
		verifiable.WithEmbeddedSignatureSuites(v.suites...),
		verifiable.WithJSONLDDocumentLoader(v.loader),
	)
	if err != nil {
		return nil, []string{fmt.Sprintf("verify credential: %s", err)}
	}

	var errs []string

	if vc.JWT == "" && len(vc.Proofs) == 0 {
		errs = append(errs, "credential has no proof")
	}

	if vc.Expired != nil && v.now().After(vc.Expired.Time) {
		errs = append(errs, fmt.Sprintf("credential expired at %s", vc.Expired.Time))
	}

	if !req.SkipX5CCheck && v.chains != nil && v.chains.HasAnchors() {
		for _, chain := range capture.chains() {
			res := v.chains.Validate(ctx, chain)
			errs = append(errs, res.Errors...)
		}
	}

	return vc, errs
}

// credentialData returns the bytes of a compact JWT or JSON-LD credential.
func credentialData(raw interface{}) ([]byte, error) {
	switch c := raw.(type) {
	case string:
		return []byte(c), nil
	case map[string]interface{}:
		b, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal credential: %w", err)
		}

		return b, nil
	default:
		return nil, fmt.Errorf("unsupported credential representation %T", raw)
	}
}

// matchDescriptor checks the credential against the schemas and constraint fields of the input descriptor.
func matchDescriptor(vc *verifiable.Credential, desc *presexch.InputDescriptor) error {
	if desc == nil {
		return nil
	}

	if len(desc.Schema) > 0 && !matchesSchema(vc, desc.Schema) {
		return fmt.Errorf("credential types %v do not match schemas of input descriptor %s", vc.Types, desc.ID)
	}

	if desc.Constraints == nil || len(desc.Constraints.Fields) == 0 {
		return nil
	}

	// a JWT credential marshals to its compact form
	plain := *vc
	plain.JWT = ""

	b, err := plain.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	var doc interface{}

	if err = json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("unmarshal credential: %w", err)
	}

	for _, f := range desc.Constraints.Fields {
		if f == nil {
			continue
		}

		if !fieldSatisfied(doc, f) {
			return fmt.Errorf("credential does not satisfy field %s of input descriptor %s",
				strings.Join(f.Path, " | "), desc.ID)
		}
	}

	return nil
}

func matchesSchema(vc *verifiable.Credential, schemas []*presexch.Schema) bool {
	for _, s := range schemas {
		if s == nil {
			continue
		}

		for _, t := range vc.Types {
			if s.URI == t || strings.HasSuffix(s.URI, "#"+t) || strings.HasSuffix(s.URI, "/"+t) {
				return true
			}
		}

		for _, c := range vc.Context {
			if s.URI == c {
				return true
			}
		}
	}

	return false
}

func fieldSatisfied(doc interface{}, f *presexch.Field) bool {
	for _, p := range f.Path {
		val, err := selectByPath(doc, p)
		if err != nil || val == nil {
			continue
		}

		if f.Filter == nil || f.Filter.Pattern == "" {
			return true
		}

		s, ok := val.(string)
		if !ok {
			continue
		}

		re, err := regexp.Compile(f.Filter.Pattern)
		if err == nil && re.MatchString(s) {
			return true
		}
	}

	return false
}
