/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package workflow

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// RequestObjectType is the typ header of signed authorization requests.
const RequestObjectType = "oauth-authz-req+jwt"

// RequestSigner signs authorization request objects with the service key.
type RequestSigner struct {
	key jose.SigningKey
	kid string
}

// NewRequestSigner returns a signer for an Ed25519 or P-256 private key. kid is the verification
// method of the key in the service DID document.
func NewRequestSigner(key interface{}, kid string) (*RequestSigner, error) {
	if kid == "" {
		return nil, errors.New("signing key id is mandatory")
	}

	var alg jose.SignatureAlgorithm

	switch k := key.(type) {
	case ed25519.PrivateKey:
		alg = jose.EdDSA
	case *ecdsa.PrivateKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
		}

		alg = jose.ES256
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key)
	}

	return &RequestSigner{key: jose.SigningKey{Algorithm: alg, Key: key}, kid: kid}, nil
}

// KeyID returns the kid header set on signed requests.
func (s *RequestSigner) KeyID() string {
	return s.kid
}

// Algorithm returns the JWS algorithm of the key.
func (s *RequestSigner) Algorithm() string {
	return string(s.key.Algorithm)
}

// Sign returns the compact JWS of claims.
func (s *RequestSigner) Sign(claims interface{}) (string, error) {
	opts := (&jose.SignerOptions{}).
		WithType(RequestObjectType).
		WithHeader(jose.HeaderKey("kid"), s.kid)

	signer, err := jose.NewSigner(s.key, opts)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign request object: %w", err)
	}

	return token, nil
}
