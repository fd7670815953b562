/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package jwk resolves did:jwk identifiers.
package jwk

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperledger/aries-framework-go/component/kmscrypto/doc/jose/jwk"
	"github.com/hyperledger/aries-framework-go/component/models/did"
	vdrspi "github.com/hyperledger/aries-framework-go/spi/vdr"
)

const (
	// DIDMethod is the did:jwk method name.
	DIDMethod = "jwk"

	schemaDIDV1    = "https://w3id.org/did/v1"
	schemaResV1    = "https://w3id.org/did-resolution/v1"
	jsonWebKey2020 = "JsonWebKey2020"
)

// VDR is a read-only did:jwk VDR.
type VDR struct{}

// New returns a did:jwk VDR.
func New() *VDR {
	return &VDR{}
}

// Accept reports whether method is did:jwk.
func (v *VDR) Accept(method string, _ ...vdrspi.DIDMethodOption) bool {
	return method == DIDMethod
}

// Read expands a did:jwk into its DID document.
func (v *VDR) Read(didJWK string, _ ...vdrspi.DIDMethodOption) (*did.DocResolution, error) {
	parsed, err := did.Parse(didJWK)
	if err != nil {
		return nil, fmt.Errorf("jwk vdr Read: failed to parse DID: %w", err)
	}

	if parsed.Method != DIDMethod {
		return nil, fmt.Errorf("jwk vdr Read: invalid did:jwk method: %s", parsed.Method)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parsed.MethodSpecificID, "="))
	if err != nil {
		return nil, fmt.Errorf("jwk vdr Read: decode method specific id: %w", err)
	}

	key := &jwk.JWK{}

	if err = key.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("jwk vdr Read: unmarshal jwk: %w", err)
	}

	if !key.Valid() || !key.IsPublic() {
		return nil, errors.New("jwk vdr Read: not a valid public jwk")
	}

	keyID := didJWK + "#0"

	vm, err := did.NewVerificationMethodFromJWK(keyID, jsonWebKey2020, didJWK, key)
	if err != nil {
		return nil, fmt.Errorf("jwk vdr Read: create verification method: %w", err)
	}

	doc := &did.Doc{
		Context:              []string{schemaDIDV1},
		ID:                   didJWK,
		VerificationMethod:   []did.VerificationMethod{*vm},
		Authentication:       []did.Verification{*did.NewReferencedVerification(vm, did.Authentication)},
		AssertionMethod:      []did.Verification{*did.NewReferencedVerification(vm, did.AssertionMethod)},
		CapabilityDelegation: []did.Verification{*did.NewReferencedVerification(vm, did.CapabilityDelegation)},
		CapabilityInvocation: []did.Verification{*did.NewReferencedVerification(vm, did.CapabilityInvocation)},
	}

	return &did.DocResolution{Context: []string{schemaResV1}, DIDDocument: doc}, nil
}

// Create is not supported.
func (v *VDR) Create(_ *did.Doc, _ ...vdrspi.DIDMethodOption) (*did.DocResolution, error) {
	return nil, errors.New("create is not supported by did:jwk vdr")
}

// Update is not supported.
func (v *VDR) Update(_ *did.Doc, _ ...vdrspi.DIDMethodOption) error {
	return errors.New("update is not supported by did:jwk vdr")
}

// Deactivate is not supported.
func (v *VDR) Deactivate(_ string, _ ...vdrspi.DIDMethodOption) error {
	return errors.New("deactivate is not supported by did:jwk vdr")
}

// Close frees resources being maintained by VDR.
func (v *VDR) Close() error {
	return nil
}

// FromKey returns the did:jwk identifier of a public JWK.
func FromKey(key *jwk.JWK) (string, error) {
	b, err := key.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal jwk: %w", err)
	}

	return "did:jwk:" + base64.RawURLEncoding.EncodeToString(b), nil
}
