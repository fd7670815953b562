/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/hyperledger/aries-framework-go/component/models/presexch"
	"github.com/hyperledger/aries-framework-go/component/models/verifiable"
)

const jwtLeeway = time.Minute

type vpClaims struct {
	jwt.Claims
	Nonce string `json:"nonce,omitempty"`
}

// verifyJWTPresentation verifies the VP JWS and its audience and nonce, then returns the raw credentials
// addressed by the nested path.
func (v *Verifier) verifyJWTPresentation(selected interface{}, m *presexch.InputDescriptorMapping,
	req *Request) ([]interface{}, error) {
	token, ok := selected.(string)
	if !ok {
		return nil, fmt.Errorf("format %s expects a compact JWT at path %s", m.Format, m.Path)
	}

	if _, err := verifiable.ParsePresentation([]byte(token), v.presentationOpts()...); err != nil {
		return nil, fmt.Errorf("verify presentation: %w", err)
	}

	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("parse presentation jwt: %w", err)
	}

	var (
		claims    vpClaims
		rawClaims map[string]interface{}
	)

	if err = parsed.UnsafeClaimsWithoutVerification(&claims, &rawClaims); err != nil {
		return nil, fmt.Errorf("decode presentation claims: %w", err)
	}

	if req.Audience != "" && !claims.Audience.Contains(req.Audience) {
		return nil, fmt.Errorf("presentation audience %v does not include %s", []string(claims.Audience), req.Audience)
	}

	if req.Challenge != "" && claims.Nonce != req.Challenge {
		return nil, errors.New("presentation nonce does not match challenge")
	}

	if err = claims.Claims.ValidateWithLeeway(jwt.Expected{Time: v.now()}, jwtLeeway); err != nil {
		return nil, fmt.Errorf("presentation claims: %w", err)
	}

	vp, _ := rawClaims["vp"].(map[string]interface{})

	if m.PathNested == nil {
		if vp == nil {
			return nil, errors.New("presentation jwt has no vp claim")
		}

		return credentialList(vp["verifiableCredential"]), nil
	}

	cred, err := selectNested(rawClaims, m.PathNested)
	if err != nil && vp != nil {
		cred, err = selectNested(vp, m.PathNested)
	}

	if err != nil {
		return nil, err
	}

	return []interface{}{cred}, nil
}

// verifyLDPPresentation verifies the data integrity proof of the presentation and its binding to the
// challenge, then returns the raw credentials addressed by the nested path.
func (v *Verifier) verifyLDPPresentation(selected interface{}, m *presexch.InputDescriptorMapping,
	req *Request) ([]interface{}, error) {
	vps, err := NormalizeDataIntegrityPresentation(selected)
	if err != nil {
		return nil, err
	}

	if len(vps) != 1 {
		return nil, fmt.Errorf("path %s selects %d presentations, expected one", m.Path, len(vps))
	}

	obj, ok := vps[0].(map[string]interface{})
	if !ok {
		return nil, ErrUnrecognizedPresentation
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal presentation: %w", err)
	}

	vp, err := verifiable.ParsePresentation(b, v.presentationOpts()...)
	if err != nil {
		return nil, fmt.Errorf("verify presentation: %w", err)
	}

	if len(vp.Proofs) == 0 {
		return nil, errors.New("presentation has no proof")
	}

	if err = checkProofBinding(vp.Proofs, req); err != nil {
		return nil, err
	}

	if m.PathNested == nil {
		return credentialList(obj["verifiableCredential"]), nil
	}

	cred, err := selectNested(obj, m.PathNested)
	if err != nil {
		return nil, err
	}

	return []interface{}{cred}, nil
}

func checkProofBinding(proofs []verifiable.Proof, req *Request) error {
	for _, p := range proofs {
		challenge, _ := p["challenge"].(string)
		if req.Challenge != "" && challenge != req.Challenge {
			continue
		}

		if req.Domain != "" && !proofHasDomain(p, req.Domain) {
			continue
		}

		return nil
	}

	if req.Domain != "" {
		return fmt.Errorf("no presentation proof bound to the challenge and domain %s", req.Domain)
	}

	return errors.New("no presentation proof bound to the challenge")
}

func proofHasDomain(p verifiable.Proof, domain string) bool {
	switch d := p["domain"].(type) {
	case string:
		return d == domain
	case []interface{}:
		for _, e := range d {
			if s, ok := e.(string); ok && s == domain {
				return true
			}
		}
	}

	return false
}

func credentialList(v interface{}) []interface{} {
	switch c := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return c
	default:
		return []interface{}{c}
	}
}
